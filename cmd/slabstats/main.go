package main

import (
	"flag"
	"fmt"

	"github.com/fmstephe/slabmalloc/sizeclass"
)

var (
	demoFlag = flag.Bool("demo", false, "Also run a small allocation demo against a real Heap (the size-class table is always printed)")
)

func main() {
	flag.Parse()

	printClassTable()

	if *demoFlag {
		fmt.Println()
		runDemo()
	}
}

func printClassTable() {
	fmt.Printf("small classes: %d\n", sizeclass.NumSmallClasses())
	fmt.Printf("medium classes: %d\n", sizeclass.NumMediumClasses())
	fmt.Printf("%-8s %-8s %-10s %-8s\n", "class", "kind", "size", "align")

	total := sizeclass.NumSmallClasses() + sizeclass.NumMediumClasses()
	for i := 0; i < total; i++ {
		c := sizeclass.Class(i)
		info := sizeclass.InfoOf(c)
		fmt.Printf("%-8d %-8s %-10d %-8d\n", i, sizeclass.KindOf(c), info.Size, info.Align)
	}
}
