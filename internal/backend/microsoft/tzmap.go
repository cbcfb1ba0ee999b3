package microsoft

import "time"

// Graph dateTimeTimeZone values carry Windows time zone names. Only the
// zones the sync has been seen running under are mapped; everything else
// degrades to UTC, which keeps the instant correct even if the wall
// clock rendering on the server differs.
var ianaToWindows = map[string]string{
	"Europe/Berlin":    "W. Europe Standard Time",
	"Europe/Vienna":    "W. Europe Standard Time",
	"Europe/Zurich":    "W. Europe Standard Time",
	"Europe/Amsterdam": "W. Europe Standard Time",
	"Europe/Rome":      "W. Europe Standard Time",
	"Europe/Paris":     "Romance Standard Time",
	"UTC":              "UTC",
}

var windowsToIANA = map[string]string{
	"UTC":                     "UTC",
	"W. Europe Standard Time": "Europe/Berlin",
	"Romance Standard Time":   "Europe/Paris",
}

// localWindowsZone returns the Windows name of the process time zone,
// or UTC when unmapped.
func localWindowsZone() string {
	name, _ := time.Now().Zone()
	loc := time.Local.String()
	if w, ok := ianaToWindows[loc]; ok {
		return w
	}
	if w, ok := ianaToWindows[name]; ok {
		return w
	}
	return "UTC"
}

// resolveZone loads the location behind a Graph timeZone value,
// accepting both Windows names and raw IANA names.
func resolveZone(tz string) *time.Location {
	if tz == "" || tz == "UTC" {
		return time.UTC
	}
	if iana, ok := windowsToIANA[tz]; ok {
		tz = iana
	}
	if loc, err := time.LoadLocation(tz); err == nil {
		return loc
	}
	return time.UTC
}
