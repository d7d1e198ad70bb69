// Package bledb maps Bluetooth SIG and known vendor UUIDs to
// human-readable names. The tables are hand-curated: the standard
// entries the CLI actually renders plus the vendor profiles the
// profile packages speak.
package bledb

import "strings"

const sigBaseSuffix = "00001000800000805f9b34fb"

// NormalizeUUID canonicalizes a UUID for table lookups: lowercase hex
// without dashes, braces or 0x prefix, shortened to the 16-bit form
// when the UUID sits on the Bluetooth SIG base.
func NormalizeUUID(uuid string) string {
	s := strings.ToLower(strings.TrimSpace(uuid))
	s = strings.Trim(s, "{}")
	s = strings.TrimPrefix(s, "0x")
	s = strings.ReplaceAll(s, "-", "")
	if len(s) == 32 && strings.HasPrefix(s, "0000") && strings.HasSuffix(s, sigBaseSuffix) {
		return s[4:8]
	}
	return s
}

// NormalizeUUIDs canonicalizes a whole list.
func NormalizeUUIDs(uuids []string) []string {
	if uuids == nil {
		return nil
	}
	out := make([]string, len(uuids))
	for i, u := range uuids {
		out[i] = NormalizeUUID(u)
	}
	return out
}

// DisplayUUID renders a UUID for humans: SIG-based UUIDs shorten to the
// upper-case 16-bit form, custom 128-bit UUIDs keep the dashed shape.
func DisplayUUID(uuid string) string {
	n := NormalizeUUID(uuid)
	switch len(n) {
	case 4:
		return strings.ToUpper(n)
	case 32:
		return n[0:8] + "-" + n[8:12] + "-" + n[12:16] + "-" + n[16:20] + "-" + n[20:]
	default:
		return n
	}
}

// LookupService returns the name of a service UUID, "" when unknown.
func LookupService(uuid string) string {
	return serviceNames[NormalizeUUID(uuid)]
}

// LookupCharacteristic returns the name of a characteristic UUID, ""
// when unknown.
func LookupCharacteristic(uuid string) string {
	return characteristicNames[NormalizeUUID(uuid)]
}

// LookupDescriptor returns the name of a descriptor UUID, "" when
// unknown.
func LookupDescriptor(uuid string) string {
	return descriptorNames[NormalizeUUID(uuid)]
}

// Lookup tries all tables in service, characteristic, descriptor
// order.
func Lookup(uuid string) string {
	n := NormalizeUUID(uuid)
	if name := serviceNames[n]; name != "" {
		return name
	}
	if name := characteristicNames[n]; name != "" {
		return name
	}
	return descriptorNames[n]
}

// LookupCompany returns the name behind a Bluetooth SIG company
// identifier, as found in manufacturer-specific advertisement data.
func LookupCompany(id uint16) string {
	return companyNames[id]
}

var serviceNames = map[string]string{
	"1800": "Generic Access",
	"1801": "Generic Attribute",
	"1805": "Current Time Service",
	"1808": "Glucose",
	"1809": "Health Thermometer",
	"180a": "Device Information",
	"180d": "Heart Rate",
	"180f": "Battery Service",
	"1810": "Blood Pressure",
	"181b": "Body Composition",
	"181d": "Weight Scale",
	"1822": "Pulse Oximeter Service",

	// Vendor profiles spoken by the profile packages.
	"fff0":                             "Vendor Scale Service",
	"fee7":                             "Vendor Tracker Service",
	"ffe0":                             "Vendor Blood Pressure Service",
	"ffb0":                             "Vendor Glucometer Service",
	"49535343fe7d4ae58fa99fafd205e455": "ISSC Transparent Service",
	"6e400001b5a3f393e0a9e50e24dcca9e": "Nordic UART Service",
}

var characteristicNames = map[string]string{
	"2a00": "Device Name",
	"2a01": "Appearance",
	"2a05": "Service Changed",
	"2a18": "Glucose Measurement",
	"2a19": "Battery Level",
	"2a1c": "Temperature Measurement",
	"2a24": "Model Number String",
	"2a25": "Serial Number String",
	"2a26": "Firmware Revision String",
	"2a27": "Hardware Revision String",
	"2a28": "Software Revision String",
	"2a29": "Manufacturer Name String",
	"2a2b": "Current Time",
	"2a35": "Blood Pressure Measurement",
	"2a37": "Heart Rate Measurement",
	"2a38": "Body Sensor Location",
	"2a5e": "PLX Spot-Check Measurement",
	"2a9d": "Weight Measurement",

	"fff1":                             "Vendor Scale Measurement",
	"fff4":                             "Vendor Scale Command",
	"fee2":                             "Vendor Tracker Data",
	"fee3":                             "Vendor Tracker Command",
	"ffe4":                             "Vendor Blood Pressure Measurement",
	"ffe9":                             "Vendor Blood Pressure Command",
	"ffb1":                             "Vendor Glucometer Data",
	"ffb2":                             "Vendor Glucometer Command",
	"495353431e4d4bd9ba6123c647249616": "ISSC Transparent RX",
	"4953534388411f4a8a9a08b8f0559af2": "ISSC Transparent TX",
	"6e400002b5a3f393e0a9e50e24dcca9e": "Nordic UART RX",
	"6e400003b5a3f393e0a9e50e24dcca9e": "Nordic UART TX",
}

var descriptorNames = map[string]string{
	"2900": "Characteristic Extended Properties",
	"2901": "Characteristic User Descriptor",
	"2902": "Client Characteristic Configuration",
	"2903": "Server Characteristic Configuration",
	"2904": "Characteristic Presentation Format",
	"2905": "Characteristic Aggregate Format",
}

var companyNames = map[uint16]string{
	0x0006: "Microsoft",
	0x000F: "Broadcom Corporation",
	0x0059: "Nordic Semiconductor ASA",
	0x004C: "Apple, Inc.",
	0x0075: "Samsung Electronics Co. Ltd.",
	0x00E0: "Google",
	0x0157: "Anhui Huami Information Technology Co., Ltd.",
	0x038F: "Xiaomi Inc.",
}
