//go:build windows

package shutdown

import "os"

// console close and logoff arrive as os.Interrupt through the runtime
var signals = []os.Signal{os.Interrupt}
