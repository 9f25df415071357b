package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/jonathanvineet/DAIO/internal/service/capture"
)

func main() {
	maxIndex := flag.Int("max", 10, "Highest device index to try")
	flag.Parse()

	fmt.Printf("Scanning camera indices 0..%d\n", *maxIndex)

	found := capture.ProbeDevices(*maxIndex)
	if len(found) == 0 {
		fmt.Println("❌ No cameras found")
		os.Exit(1)
	}
	for _, index := range found {
		fmt.Printf("✅ Camera available at index %d\n", index)
	}
	fmt.Printf("Set SOURCE=device DEVICE_INDEX=%d to use the first one\n", found[0])
}
