// Package syslogparse parses RFC3164 and RFC5424 syslog datagrams into the
// normalised log-event schema the UDP receiver enqueues (C6).
package syslogparse

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"ingestpipe/pkg/domain"
)

// facilitySeverity decodes the <PRI> header shared by both syslog formats:
// priority = facility*8 + severity.
func facilitySeverity(pri int) (facility, severity int) {
	return pri / 8, pri % 8
}

// severityToLevel maps RFC5424 severity (0=emergency .. 7=debug) onto the
// normalised LogLevel scale.
func severityToLevel(severity int) domain.LogLevel {
	switch {
	case severity <= 2: // emergency, alert, critical
		return domain.LevelFatal
	case severity == 3: // error
		return domain.LevelError
	case severity == 4: // warning
		return domain.LevelWarn
	case severity == 5, severity == 6: // notice, informational
		return domain.LevelInfo
	case severity == 7: // debug
		return domain.LevelDebug
	default:
		return domain.LevelInfo
	}
}

// rfc3164Timestamp is the fixed-width "Mmm dd hh:mm:ss" stamp RFC3164 uses,
// with no year or zone; it is interpreted as UTC and assigned the current
// year.
const rfc3164Timestamp = "Jan _2 15:04:05"

// Parse detects the syslog variant from the leading <PRI> and the presence
// of a version digit right after it, and dispatches to the matching parser.
func Parse(datagram []byte, host string) (*domain.LogEvent, error) {
	s := string(datagram)
	pri, rest, err := parsePriority(s)
	if err != nil {
		return nil, err
	}

	if len(rest) > 0 && rest[0] >= '1' && rest[0] <= '9' && strings.HasPrefix(rest[1:], " ") {
		return parseRFC5424(pri, rest, host)
	}
	return parseRFC3164(pri, rest, host)
}

func parsePriority(s string) (pri int, rest string, err error) {
	if len(s) == 0 || s[0] != '<' {
		return 0, "", fmt.Errorf("syslogparse: missing <PRI> header")
	}
	end := strings.IndexByte(s, '>')
	if end < 0 || end > 4 {
		return 0, "", fmt.Errorf("syslogparse: malformed <PRI> header")
	}
	pri, err = strconv.Atoi(s[1:end])
	if err != nil {
		return 0, "", fmt.Errorf("syslogparse: non-numeric priority: %w", err)
	}
	if pri < 0 || pri > 191 {
		return 0, "", fmt.Errorf("syslogparse: priority %d out of range", pri)
	}
	return pri, s[end+1:], nil
}

// parseRFC3164 parses the legacy BSD format:
// <PRI>TIMESTAMP HOSTNAME TAG[PID]: MSG
func parseRFC3164(pri int, rest, defaultHost string) (*domain.LogEvent, error) {
	if len(rest) < len(rfc3164Timestamp) {
		return nil, fmt.Errorf("syslogparse: rfc3164 message too short for timestamp")
	}

	tsPart := rest[:len(rfc3164Timestamp)]
	remainder := strings.TrimPrefix(rest[len(rfc3164Timestamp):], " ")

	ts, tsErr := time.Parse(rfc3164Timestamp, tsPart)
	if tsErr != nil {
		ts = time.Now()
	} else {
		ts = ts.AddDate(time.Now().Year(), 0, 0)
	}

	host := defaultHost
	appName := ""
	msg := remainder

	if sp := strings.IndexByte(remainder, ' '); sp > 0 {
		host = remainder[:sp]
		msg = remainder[sp+1:]
	}

	if colon := strings.IndexByte(msg, ':'); colon > 0 && colon < 64 {
		tag := msg[:colon]
		appName = strings.TrimSuffix(strings.SplitN(tag, "[", 2)[0], " ")
		msg = strings.TrimPrefix(msg[colon+1:], " ")
	}

	_, severity := facilitySeverity(pri)

	event := &domain.LogEvent{
		Timestamp:     ts.UTC(),
		Level:         severityToLevel(severity),
		Message:       msg,
		Service:       appName,
		Host:          host,
		SchemaVersion: domain.SchemaVersion,
	}
	event.Normalize()
	return event, nil
}

// parseRFC5424 parses the structured format:
// <PRI>VERSION TIMESTAMP HOSTNAME APP-NAME PROCID MSGID STRUCTURED-DATA MSG
func parseRFC5424(pri int, rest, defaultHost string) (*domain.LogEvent, error) {
	// Split off the 6 plain whitespace-delimited header fields (version,
	// timestamp, hostname, app-name, procid, msgid); what remains is the
	// structured-data block (which may itself contain spaces inside its
	// brackets) followed by the free-text message.
	fields, msg := splitHeaderFields(rest, 6)
	if len(fields) < 6 {
		return nil, fmt.Errorf("syslogparse: rfc5424 message has too few header fields")
	}

	// fields[0] is the version digit already consumed by the caller's detection.
	timestamp := fields[1]
	hostname := fields[2]
	appName := fields[3]

	ts, err := time.Parse(time.RFC3339Nano, timestamp)
	if err != nil {
		ts = time.Now()
	}

	if hostname == "-" || hostname == "" {
		hostname = defaultHost
	}
	if appName == "-" {
		appName = ""
	}

	msg = stripStructuredData(msg)

	_, severity := facilitySeverity(pri)

	event := &domain.LogEvent{
		Timestamp:     ts.UTC(),
		Level:         severityToLevel(severity),
		Message:       strings.TrimSpace(msg),
		Service:       appName,
		Host:          hostname,
		SchemaVersion: domain.SchemaVersion,
	}
	event.Normalize()
	return event, nil
}

// splitHeaderFields splits the first n whitespace-delimited fields off s,
// returning the fields found and the unconsumed remainder (which may itself
// begin with structured data followed by the free-text message).
func splitHeaderFields(s string, n int) ([]string, string) {
	fields := make([]string, 0, n)
	for i := 0; i < n; i++ {
		s = strings.TrimPrefix(s, " ")
		sp := strings.IndexByte(s, ' ')
		if sp < 0 {
			fields = append(fields, s)
			return fields, ""
		}
		fields = append(fields, s[:sp])
		s = s[sp+1:]
	}
	return fields, s
}

// stripStructuredData removes a leading STRUCTURED-DATA block (`-` for nil,
// or one or more bracketed SD-ELEMENTs) from the remainder of an RFC5424
// message, returning the free-text MSG portion.
func stripStructuredData(s string) string {
	s = strings.TrimPrefix(s, " ")
	if strings.HasPrefix(s, "-") {
		return strings.TrimPrefix(s[1:], " ")
	}
	for strings.HasPrefix(s, "[") {
		depth := 0
		i := 0
		for ; i < len(s); i++ {
			switch s[i] {
			case '[':
				depth++
			case ']':
				depth--
				if depth == 0 {
					i++
					goto next
				}
			}
		}
	next:
		s = strings.TrimPrefix(s[i:], " ")
	}
	return s
}
