// Package xbee provides a pure Go driver for the XBee API frame protocol.
//
// This library implements the framing layer only, following the sans-IO
// pattern - it turns an unframed serial byte stream into validated,
// discrete frames and hands each one to exactly one consumer. Consumers
// provide the underlying transport; a ready-made serial adapter lives in
// the serialport subpackage.
//
// # Architecture
//
// The library is organized into layers:
//
//   - Driver: composes the pipeline and exposes the consumer API
//   - demux: stream demultiplexing, resynchronization, escape decoding
//   - frames: wire format, checksum validation, frame assembly
//   - delivery: push/pull hand-off, backlog, backpressure hooks
//   - api: discriminant/body split and frame type names
//   - serialport: go.bug.st/serial transport adapter
//
// Data flows one direction: transport -> demux -> frames -> delivery ->
// consumer. Frames are delivered in wire order, exactly once.
//
// # Basic Usage
//
//	// Open a serial port and attach a driver in pull mode
//	port, err := serialport.Open("/dev/ttyUSB0", serialport.Config{BaudRate: 9600})
//	if err != nil {
//	    return err
//	}
//	drv := xbee.New(port, xbee.WithEscaped())
//	port.Attach(drv)
//	defer drv.Halt()
//
//	for {
//	    frame, err := drv.WaitReadFrame(ctx)
//	    if err != nil {
//	        return err
//	    }
//	    fmt.Println(frame.Type, frame.Data)
//	}
//
// Push mode registers a callback at construction instead:
//
//	drv := xbee.New(port,
//	    xbee.WithCallback(func(f *api.Frame) { ... }),
//	    xbee.WithErrorCallback(func(err error) { ... }))
//
// The mode is fixed for the driver's lifetime.
//
// # Transport Agnostic
//
// The core consumes any byte-stream transport that pushes received chunks
// into Protocol.DataReceived and writes raw bytes out. Besides a local
// serial port this fits TCP serial servers, ptys and in-memory pipes used
// in tests.
package xbee
