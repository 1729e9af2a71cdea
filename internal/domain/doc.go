// Package domain models the weather summaries relayed onto a Meshtastic mesh
// and the capabilities the relay depends on.
//
// # Weather Source
//
// Weather text comes from wttr.in, queried as "https://wttr.in/<location>".
// The location is free text: a city name ("London"), a postal code ("37397"),
// an airport code ("KJFK"), a landmark prefixed with "~" ("~Dunlap+TN"), or
// GPS coordinates ("35.37,-85.39"). It is never blank: a run without an
// argument uses the configured default location.
//
// Query options:
//
//	format=3   one line, "<location>: <icon> <temperature>"
//	format=j1  full JSON report (current_condition, nearest_area, weather)
//	T          no terminal control sequences in the text output
//
// In the j1 report every scalar is a string ("15", not 15) and descriptive
// fields are single-element lists of {"value": ...} objects. Missing fields
// are rendered as "N/A" by the formatters.
//
// # Mesh Conventions
//
// A broadcast is a text message addressed to node 0xFFFFFFFF on a channel
// index (0 is the primary channel). A single Meshtastic data payload holds at
// most 233 bytes; the relay keeps report messages at or below a configurable
// rune budget (200 by default, matching what fits comfortably on handheld
// screens) and the byte limit, and splits longer reports in two.
package domain
