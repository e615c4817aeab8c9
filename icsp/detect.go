package icsp

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/karalabe/usb"
	"go.bug.st/serial/enumerator"
)

// USB bridge chips found in K150-class programmers. The programmer itself
// has no vendor ID of its own; it sits behind one of these serial bridges.
var knownBridges = []struct {
	vendorID  uint16
	productID uint16
	name      string
}{
	{0x067b, 0x2303, "Prolific PL2303"},
	{0x1a86, 0x7523, "WCH CH340"},
	{0x0403, 0x6001, "FTDI FT232"},
	{0x10c4, 0xea60, "Silicon Labs CP210x"},
}

// PortInfo describes one candidate programmer port.
type PortInfo struct {
	// Name is the device path to pass to OpenSerial.
	Name string
	// VendorID and ProductID of the USB serial bridge, empty for
	// non-USB ports.
	VendorID  string
	ProductID string
	Serial    string
	// Bridge names the recognized USB bridge chip, empty when unknown.
	Bridge string
}

// DetectPorts lists serial ports, flagging the ones behind a USB bridge
// chip known to be used by programmers.
func DetectPorts() ([]PortInfo, error) {
	ports, err := enumerator.GetDetailedPortsList()
	if err != nil {
		return nil, fmt.Errorf("icsp: enumerate ports: %w", err)
	}

	infos := make([]PortInfo, 0, len(ports))
	for _, p := range ports {
		info := PortInfo{Name: p.Name}
		if p.IsUSB {
			info.VendorID = p.VID
			info.ProductID = p.PID
			info.Serial = p.SerialNumber
			info.Bridge = bridgeName(p.VID, p.PID)
		}
		infos = append(infos, info)
	}
	return infos, nil
}

// DetectBridges enumerates raw USB devices matching the known bridge
// chips. When a bridge shows up here but not in DetectPorts, the hardware
// is present and the serial driver is not bound; that distinction is the
// difference between a wiring problem and a host driver problem.
func DetectBridges() ([]string, error) {
	if !usb.Supported() {
		return nil, nil
	}

	var found []string
	for _, b := range knownBridges {
		devs, err := usb.Enumerate(b.vendorID, b.productID)
		if err != nil {
			return nil, fmt.Errorf("icsp: enumerate usb: %w", err)
		}
		for range devs {
			found = append(found, b.name)
		}
	}
	return found, nil
}

func bridgeName(vid, pid string) string {
	v, err := strconv.ParseUint(strings.TrimPrefix(vid, "0x"), 16, 16)
	if err != nil {
		return ""
	}
	p, err := strconv.ParseUint(strings.TrimPrefix(pid, "0x"), 16, 16)
	if err != nil {
		return ""
	}
	for _, b := range knownBridges {
		if b.vendorID == uint16(v) && b.productID == uint16(p) {
			return b.name
		}
	}
	return ""
}
