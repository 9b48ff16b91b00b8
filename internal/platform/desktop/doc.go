// Package desktop provides haptics and audio services for hosts without a
// phone's actuator or audio session.
//
// CommandAudio plays sound assets by running a command-line player (afplay on
// macOS, paplay or aplay on Linux). LogHaptics stands in for a vibration
// motor: every pulse becomes a log line and a bus event. The Noop types do
// nothing and are used on headless hosts.
package desktop
