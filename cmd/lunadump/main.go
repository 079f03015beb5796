// Command lunadump reads raw TF-Luna frames off a serial port and prints
// them, verifying each checksum. It is a wiring/bring-up aid: if frames show
// up here with good checksums, the timer's acquisition path will work.
//
// The temperature column uses the datasheet formula raw/8-256.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/banshee-data/pumptrack.timer/internal/serialport"
	"github.com/banshee-data/pumptrack.timer/internal/tfluna"
)

var (
	port     = flag.String("port", "/dev/ttyS0", "Serial device path")
	baud     = flag.Int("baud", 115200, "Baud rate")
	frames   = flag.Int("frames", 20, "Number of frames to read before exiting")
	timeout  = flag.Duration("timeout", time.Second, "Per-read timeout")
)

func main() {
	flag.Parse()

	fmt.Printf("Opening %s at %d baud...\n", *port, *baud)

	p, err := serialport.RealFactory{}.Open(*port, serialport.Options{BaudRate: *baud})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to open port: %v\n", err)
		if os.IsPermission(err) || strings.Contains(err.Error(), "permission") {
			fmt.Fprintln(os.Stderr, "permission denied; try: sudo usermod -a -G dialout $USER")
		}
		os.Exit(1)
	}
	defer p.Close()

	if tp, ok := p.(serialport.TimeoutPorter); ok {
		if err := tp.SetReadTimeout(*timeout); err != nil {
			fmt.Fprintf(os.Stderr, "failed to set read timeout: %v\n", err)
			os.Exit(1)
		}
	}
	if err := p.ResetInputBuffer(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to reset input buffer: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Waiting for TF-Luna data (9-byte frames)...")
	fmt.Println("Frame format: [0x59 0x59 Dist_L Dist_H Strength_L Strength_H Temp_L Temp_H Checksum]")
	fmt.Println(strings.Repeat("-", 72))

	read := 0
	misses := 0
	for read < *frames {
		frame, ok, err := tfluna.ScanFrame(p, tfluna.DefaultScanBudget)
		if err != nil {
			fmt.Fprintf(os.Stderr, "read error: %v\n", err)
			os.Exit(1)
		}
		if !ok {
			misses++
			if misses >= 10 {
				fmt.Fprintln(os.Stderr, "no frames received; check wiring (TX->RX, RX->TX) and UART config")
				os.Exit(1)
			}
			continue
		}
		misses = 0
		read++

		// datasheet temperature form, distinct from the raw/100 the timer uses
		tempRaw := frame.TemperatureC * 100
		datasheetTemp := tempRaw/8 - 256
		fmt.Printf("Frame %3d: Distance=%4dcm  Strength=%5d  Temp=%5.1fC\n",
			read, frame.Distance, frame.Strength, datasheetTemp)
	}

	fmt.Println(strings.Repeat("-", 72))
	fmt.Printf("Successfully read %d frames\n", read)
}
