// Package qemurun builds ESP32 firmware images and runs them inside QEMU.
package qemurun

// Version is the qemurun release version.
const Version = "0.3.0"
