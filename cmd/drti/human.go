package main

import (
	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var humanPrinter = message.NewPrinter(language.English)

// humanCount renders n with digit grouping, e.g. 12,345.
func humanCount[T ~int | ~uint64](n T) string {
	return humanPrinter.Sprintf("%d", n)
}
