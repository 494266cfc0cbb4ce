// Package seriallogger manages serial communication with Arduino-class
// devices: it enumerates candidate ports, auto-detects the device by its
// telemetry marker, opens the port at a configured baud rate and invokes a
// registered callback for every parsed data line.
//
// Devices are expected to emit newline-terminated text where telemetry lines
// carry a marker prefix followed by semicolon-separated key:value pairs:
//
//	D;temp:23.5;hum:40
//
// Lines without the marker are ignored. A minimal session looks like:
//
//	l := seriallogger.New(seriallogger.DefaultConfig())
//	l.SetCallback(func(fields map[string]string) {
//		fmt.Println(fields["temp"])
//	})
//	if err := l.Start(); err != nil {
//		log.Fatal(err)
//	}
//	defer l.Stop()
package seriallogger
