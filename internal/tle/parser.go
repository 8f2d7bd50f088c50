package tle

import (
	"bufio"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Parse reads NORAD element sets from r. Both the three-line form (name,
// line 1, line 2) and bare two-line pairs are accepted. Malformed entries
// are skipped with a warning.
func Parse(r io.Reader, logger *slog.Logger) ([]Element, error) {
	scanner := bufio.NewScanner(r)
	var lines []string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r\n ")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading TLE data: %w", err)
	}

	var elements []Element
	for i := 0; i+1 < len(lines); {
		var name, line1, line2 string
		switch {
		case isLine(lines[i], '1') && isLine(lines[i+1], '2'):
			line1, line2 = lines[i], lines[i+1]
			i += 2
		case i+2 < len(lines) && isLine(lines[i+1], '1') && isLine(lines[i+2], '2'):
			name, line1, line2 = strings.TrimSpace(lines[i]), lines[i+1], lines[i+2]
			i += 3
		default:
			logger.Warn("skipping malformed TLE entry", "line_index", i, "line", lines[i])
			i++
			continue
		}

		e, err := parseElement(name, line1, line2)
		if err != nil {
			logger.Warn("skipping TLE entry", "name", name, "error", err)
			continue
		}
		elements = append(elements, e)
	}

	return elements, nil
}

func isLine(s string, n byte) bool {
	return len(s) > 2 && s[0] == n && s[1] == ' '
}

func parseElement(name, line1, line2 string) (Element, error) {
	noradStr := strings.TrimSpace(line1[2:min(7, len(line1))])
	noradID, err := strconv.Atoi(noradStr)
	if err != nil {
		return Element{}, fmt.Errorf("invalid NORAD ID %q", noradStr)
	}

	// Epoch lives in line 1 columns 19-32.
	if len(line1) < 32 {
		return Element{}, fmt.Errorf("line 1 too short (%d chars)", len(line1))
	}
	epoch, err := parseEpoch(strings.TrimSpace(line1[18:32]))
	if err != nil {
		return Element{}, err
	}

	if name == "" {
		name = strconv.Itoa(noradID)
	}
	return Element{
		NORADID: noradID,
		Name:    name,
		Epoch:   epoch,
		Line1:   line1,
		Line2:   line2,
	}, nil
}

// parseEpoch converts a YYDDD.DDDDDDDD epoch to UTC.
// Years 57-99 are 1900s, 00-56 are 2000s.
func parseEpoch(s string) (time.Time, error) {
	if len(s) < 5 {
		return time.Time{}, fmt.Errorf("epoch string too short: %q", s)
	}

	year, err := strconv.Atoi(s[:2])
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch year %q: %w", s[:2], err)
	}
	if year >= 57 {
		year += 1900
	} else {
		year += 2000
	}

	day, err := strconv.ParseFloat(s[2:], 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid epoch day %q: %w", s[2:], err)
	}

	// Day 1 is January 1.
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return start.Add(time.Duration((day - 1) * float64(24*time.Hour))), nil
}
