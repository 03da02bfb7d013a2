// Package capconfig parses the capture-config pattern-list format (§4.1,
// §6) and answers exclusion queries during a capture.
package capconfig

import (
	"bufio"
	"bytes"
	"strings"

	"github.com/gobwas/glob"

	"github.com/wimimage/wimcore/wimerr"
)

type section int

const (
	sectionNone section = iota
	sectionExclusion
	sectionExclusionException
	sectionCompressionExclusion
	sectionAlignment
)

var sectionHeaders = map[string]section{
	"[ExclusionList]":             sectionExclusion,
	"[ExclusionException]":        sectionExclusionException,
	"[CompressionExclusionList]":  sectionCompressionExclusion,
	"[AlignmentList]":             sectionAlignment,
}

// Config is a parsed capture-config pattern set (§3 "CaptureConfig").
type Config struct {
	exclusion            []pattern
	exclusionException    []pattern
	compressionExclusion []pattern
	alignment            []pattern
	prefix                string
}

type pattern struct {
	raw     string
	rooted  bool // leading '/': anchored at the capture source root
	hasSlash bool // contains '/' elsewhere: relative to capture root
	g       glob.Glob
}

// Parse parses a capture-config file's bytes (§4.1, §6).
//
// Line-oriented, CRLF tolerant. Section headers select which list
// subsequent non-empty lines join. Backslashes are normalized to forward
// slashes; a leading drive letter ("X:") is stripped. '#' is not a
// comment marker. Any non-empty line appearing before a section header,
// or an unrecognized bracketed header, is InvalidCaptureConfig.
func Parse(configBytes []byte) (*Config, error) {
	cfg := &Config{}
	cur := sectionNone
	sc := bufio.NewScanner(bytes.NewReader(configBytes))
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			continue
		}
		if strings.HasPrefix(trimmed, "[") {
			sec, ok := sectionHeaders[trimmed]
			if !ok {
				return nil, wimerr.New(wimerr.InvalidCaptureConfig, "parse", "", errUnknownSection(trimmed))
			}
			cur = sec
			continue
		}
		if cur == sectionNone {
			return nil, wimerr.New(wimerr.InvalidCaptureConfig, "parse", "", errBeforeSection(trimmed))
		}
		p, err := compile(trimmed)
		if err != nil {
			return nil, wimerr.New(wimerr.InvalidCaptureConfig, "parse", "", err)
		}
		switch cur {
		case sectionExclusion:
			cfg.exclusion = append(cfg.exclusion, p)
		case sectionExclusionException:
			cfg.exclusionException = append(cfg.exclusionException, p)
		case sectionCompressionExclusion:
			cfg.compressionExclusion = append(cfg.compressionExclusion, p)
		case sectionAlignment:
			cfg.alignment = append(cfg.alignment, p)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, wimerr.New(wimerr.InvalidCaptureConfig, "parse", "", err)
	}
	return cfg, nil
}

func compile(raw string) (pattern, error) {
	norm := strings.ReplaceAll(raw, `\`, "/")
	if len(norm) >= 2 && norm[1] == ':' && isDriveLetter(norm[0]) {
		norm = norm[2:]
	}
	rooted := strings.HasPrefix(norm, "/")
	body := norm
	hasSlash := strings.Contains(strings.TrimPrefix(body, "/"), "/")
	g, err := glob.Compile(strings.ToLower(strings.TrimPrefix(body, "/")), '/')
	if err != nil {
		return pattern{}, err
	}
	return pattern{raw: norm, rooted: rooted, hasSlash: hasSlash, g: g}, nil
}

func isDriveLetter(b byte) bool {
	return (b >= 'A' && b <= 'Z') || (b >= 'a' && b <= 'z')
}

// SetPrefix sets the capture-source prefix used by Exclude when
// stripPrefix is requested.
func (c *Config) SetPrefix(prefix string) {
	c.prefix = strings.ReplaceAll(prefix, `\`, "/")
}

// Exclude reports whether absolutePath is excluded from capture (§4.1):
// match(exclusion) AND NOT match(exclusionException).
func (c *Config) Exclude(absolutePath string, stripPrefix bool) bool {
	path := strings.ReplaceAll(absolutePath, `\`, "/")
	if stripPrefix && c.prefix != "" {
		withSlash := c.prefix + "/"
		if strings.HasPrefix(path, withSlash) {
			path = path[len(withSlash):]
		} else if path == c.prefix {
			path = ""
		}
	}
	return matchAny(c.exclusion, path) && !matchAny(c.exclusionException, path)
}

// CompressionExcluded reports whether path matches the
// CompressionExclusionList (used by an external compressor; the engine
// itself only needs to expose the predicate).
func (c *Config) CompressionExcluded(absolutePath string) bool {
	return matchAny(c.compressionExclusion, strings.ReplaceAll(absolutePath, `\`, "/"))
}

// Aligned reports whether path matches the AlignmentList.
func (c *Config) Aligned(absolutePath string) bool {
	return matchAny(c.alignment, strings.ReplaceAll(absolutePath, `\`, "/"))
}

func matchAny(pats []pattern, path string) bool {
	lower := strings.ToLower(strings.TrimPrefix(path, "/"))
	base := lower
	if i := strings.LastIndexByte(base, '/'); i >= 0 {
		base = base[i+1:]
	}
	for _, p := range pats {
		if p.rooted || p.hasSlash {
			if p.g.Match(lower) {
				return true
			}
			continue
		}
		if p.g.Match(base) {
			return true
		}
	}
	return false
}

type errUnknownSection string

func (e errUnknownSection) Error() string { return "unknown capture-config section: " + string(e) }

type errBeforeSection string

func (e errBeforeSection) Error() string {
	return "non-empty line before any section header: " + string(e)
}
