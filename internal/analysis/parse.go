// SPDX-License-Identifier: MIT

package analysis

import (
	"regexp"
	"strconv"
	"strings"
)

// Narrow tolerant regexes over toolchain text output. Every extractor
// returns its fallback when the pattern is absent or malformed.

var (
	reIntegrated = regexp.MustCompile(`I:\s*(-?\d+(?:\.\d+)?)\s*LUFS`)
	reLRA        = regexp.MustCompile(`LRA:\s*(-?\d+(?:\.\d+)?)\s*LU`)
	// With peak=sample+true the summary prints a "Sample peak:" section
	// before "True peak:", both with a "Peak: ... dBFS" line, so the
	// match is anchored on the section header.
	reTruePeak   = regexp.MustCompile(`True peak:\s*\n\s*Peak:\s*(-?\d+(?:\.\d+)?)\s*dBFS`)

	reRMSLevel   = regexp.MustCompile(`RMS level dB:\s*(-?\d+(?:\.\d+)?|-inf)`)
	rePeakLevel  = regexp.MustCompile(`Peak level dB:\s*(-?\d+(?:\.\d+)?|-inf)`)
	reCrest      = regexp.MustCompile(`Crest factor:\s*(-?\d+(?:\.\d+)?)`)
	reFlatFactor = regexp.MustCompile(`Flat factor:\s*(-?\d+(?:\.\d+)?)`)
	rePeakCount  = regexp.MustCompile(`Peak count:\s*(\d+)`)
	reNoiseFloor = regexp.MustCompile(`Noise floor dB:\s*(-?\d+(?:\.\d+)?|-inf)`)
	reDCOffset   = regexp.MustCompile(`DC offset:\s*(-?\d+(?:\.\d+)?)`)

	reSilenceStart = regexp.MustCompile(`silence_start:\s*(-?\d+(?:\.\d+)?)`)
	reSilenceEnd   = regexp.MustCompile(`silence_end:\s*(-?\d+(?:\.\d+)?)`)

	reCentroidMeta = regexp.MustCompile(`lavfi\.aspectralstats\.\d+\.centroid=(-?\d+(?:\.\d+)?)`)
	reFlatnessMeta = regexp.MustCompile(`lavfi\.aspectralstats\.\d+\.flatness=(-?\d+(?:\.\d+)?)`)

	reMeanVolume = regexp.MustCompile(`mean_volume:\s*(-?\d+(?:\.\d+)?)\s*dB`)
)

// extractFloat returns the first capture of re in text, or fallback.
func extractFloat(re *regexp.Regexp, text string, fallback float64) float64 {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return fallback
	}
	if m[1] == "-inf" {
		return fallback
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return fallback
	}
	return v
}

// extractInt returns the first capture of re in text as an int, or fallback.
func extractInt(re *regexp.Regexp, text string, fallback int) int {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return fallback
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return fallback
	}
	return v
}

// extractFloatMean averages every capture of re in text, or fallback when
// there are none. Used for per-frame metadata dumps.
func extractFloatMean(re *regexp.Regexp, text string, fallback float64) float64 {
	ms := re.FindAllStringSubmatch(text, -1)
	if len(ms) == 0 {
		return fallback
	}
	var sum float64
	var n int
	for _, m := range ms {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			sum += v
			n++
		}
	}
	if n == 0 {
		return fallback
	}
	return sum / float64(n)
}

// silenceInterval is one detected silence span.
type silenceInterval struct {
	start, end float64
}

// parseSilence extracts silencedetect spans. A dangling silence_start with
// no matching end runs to the given duration.
func parseSilence(text string, duration float64) []silenceInterval {
	starts := reSilenceStart.FindAllStringSubmatch(text, -1)
	ends := reSilenceEnd.FindAllStringSubmatch(text, -1)

	var out []silenceInterval
	for i, s := range starts {
		start, err := strconv.ParseFloat(s[1], 64)
		if err != nil {
			continue
		}
		end := duration
		if i < len(ends) {
			if e, err := strconv.ParseFloat(ends[i][1], 64); err == nil {
				end = e
			}
		}
		if end > start {
			out = append(out, silenceInterval{start: start, end: end})
		}
	}
	return out
}

// perChannelRMS extracts the RMS level of each "Channel: n" astats block,
// in order. Returns nil when astats printed no per-channel sections.
func perChannelRMS(text string) []float64 {
	var out []float64
	sections := strings.Split(text, "Channel:")
	for _, sec := range sections[1:] {
		// Stop at the Overall block so its RMS is not attributed to a channel.
		if idx := strings.Index(sec, "Overall"); idx >= 0 {
			sec = sec[:idx]
		}
		if m := reRMSLevel.FindStringSubmatch(sec); m != nil && m[1] != "-inf" {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				out = append(out, v)
			}
		}
	}
	return out
}
