// Command xbee-dump attaches to a serial port and prints every API frame
// the module emits. Useful for checking wiring, api_mode settings and
// link quality.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"go.bug.st/serial"

	xbee "github.com/jimmo/go-xbee"
	"github.com/jimmo/go-xbee/serialport"
)

func main() {
	device := flag.String("device", "/dev/ttyUSB0", "serial device")
	baud := flag.Int("baud", 9600, "baud rate")
	escaped := flag.Bool("escaped", false, "module uses API mode 2 (escaped)")
	verbose := flag.Bool("v", false, "log driver internals")
	flag.Parse()

	// Trap Ctrl+C for clean shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	if *device == "" {
		ports, err := serial.GetPortsList()
		if err != nil {
			log.Fatalf("list serial ports: %v", err)
		}
		for _, p := range ports {
			fmt.Println(p)
		}
		return
	}

	port, err := serialport.Open(*device, serialport.Config{BaudRate: *baud})
	if err != nil {
		log.Fatalf("open port: %v", err)
	}
	defer port.Close()

	opts := []xbee.Option{}
	if *escaped {
		opts = append(opts, xbee.WithEscaped())
	}
	if *verbose {
		opts = append(opts, xbee.WithLogger(log.New(os.Stderr, "[xbee] ", log.LstdFlags)))
	}

	drv := xbee.New(port, opts...)
	defer drv.Halt()
	if err := port.Attach(drv); err != nil {
		log.Fatalf("attach driver: %v", err)
	}

	log.Printf("listening on %s at %d baud", *device, *baud)
	for {
		frame, err := drv.WaitReadFrame(ctx)
		if err != nil {
			stats := drv.Stats()
			log.Printf("stopped: %v (frames=%d checksum_errors=%d discarded=%d)",
				err, stats.Demux.FramesDelivered, stats.Demux.ChecksumErrors,
				stats.Demux.BytesDiscarded)
			return
		}
		fmt.Printf("%-22s % X\n", frame.Type, frame.Data)
	}
}
