// Package patterns implements the server-scoped regex rulebook: flag parsing,
// compilation, first-match routing with a default fallback, and the mutation
// operations behind the rule management commands.
package patterns

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"DiscordContextBot/internal/logging"
	"DiscordContextBot/internal/storage"
)

// FlagSet is the parsed form of a pipe-joined regex flag string. ASCII and
// UNICODE are accepted and round-tripped for compatibility with existing
// rulebooks but have no effect on matching; VERBOSE is desugared before
// compilation.
type FlagSet uint8

const (
	FlagIgnoreCase FlagSet = 1 << iota
	FlagDotAll
	FlagMultiline
	FlagASCII
	FlagVerbose
	FlagUnicode
)

var flagNames = []struct {
	flag FlagSet
	name string
}{
	{FlagIgnoreCase, "IGNORECASE"},
	{FlagDotAll, "DOTALL"},
	{FlagMultiline, "MULTILINE"},
	{FlagASCII, "ASCII"},
	{FlagVerbose, "VERBOSE"},
	{FlagUnicode, "UNICODE"},
}

// ParseFlags parses a pipe-joined flag string like "IGNORECASE|VERBOSE".
func ParseFlags(s string) (FlagSet, error) {
	var flags FlagSet
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	for _, part := range strings.Split(s, "|") {
		name := strings.ToUpper(strings.TrimSpace(part))
		found := false
		for _, known := range flagNames {
			if known.name == name {
				flags |= known.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown regex flag %q", name)
		}
	}
	return flags, nil
}

// String serialises the set back to the pipe-joined form in canonical order.
func (f FlagSet) String() string {
	var names []string
	for _, known := range flagNames {
		if f&known.flag != 0 {
			names = append(names, known.name)
		}
	}
	return strings.Join(names, "|")
}

// compile builds the regexp for an expression under the given flags.
func compile(expr string, flags FlagSet) (*regexp.Regexp, error) {
	if flags&FlagVerbose != 0 {
		expr = desugarVerbose(expr)
	}
	var prefix string
	if flags&FlagIgnoreCase != 0 {
		prefix += "i"
	}
	if flags&FlagDotAll != 0 {
		prefix += "s"
	}
	if flags&FlagMultiline != 0 {
		prefix += "m"
	}
	if prefix != "" {
		expr = "(?" + prefix + ")" + expr
	}
	return regexp.Compile(expr)
}

// desugarVerbose strips unescaped whitespace and #-comments, the verbose-mode
// sugar, so the pattern compiles as written.
func desugarVerbose(expr string) string {
	var sb strings.Builder
	inClass := false
	escaped := false
	for i := 0; i < len(expr); i++ {
		ch := expr[i]
		if escaped {
			sb.WriteByte(ch)
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			sb.WriteByte(ch)
			escaped = true
		case '[':
			inClass = true
			sb.WriteByte(ch)
		case ']':
			inClass = false
			sb.WriteByte(ch)
		case '#':
			if inClass {
				sb.WriteByte(ch)
				continue
			}
			// Comment runs to end of line
			for i < len(expr) && expr[i] != '\n' {
				i++
			}
		case ' ', '\t', '\n', '\r':
			if inClass {
				sb.WriteByte(ch)
			}
		default:
			sb.WriteByte(ch)
		}
	}
	return sb.String()
}

// Pattern is one compiled rule expression.
type Pattern struct {
	ID            int     `json:"id"`
	Name          string  `json:"name,omitempty"`
	Expr          string  `json:"pattern"`
	Flags         string  `json:"flags,omitempty"`
	ScreenshotURL string  `json:"screenshot_url,omitempty"`
	re            *regexp.Regexp
}

// Response is one routable response with its patterns.
type Response struct {
	ID       int       `json:"response_id"`
	Name     string    `json:"name,omitempty"`
	Note     string    `json:"note,omitempty"`
	Text     string    `json:"response"`
	Patterns []Pattern `json:"patterns"`
}

type rulebookFile struct {
	Servers map[string][]*Response `json:"servers"`
}

// Matcher is the compiled rulebook index.
type Matcher struct {
	files *storage.FileStore
	path  string

	mu      sync.RWMutex
	servers map[string][]*Response
}

// NewMatcher loads and compiles the rulebook at path (relative to the file
// store root).
func NewMatcher(files *storage.FileStore, path string) (*Matcher, error) {
	m := &Matcher{files: files, path: path, servers: make(map[string][]*Response)}
	if err := m.Reload(); err != nil {
		return nil, err
	}
	return m, nil
}

// Reload re-reads and recompiles the rulebook. Responses whose every pattern
// fails to compile are dropped; individual failures are logged.
func (m *Matcher) Reload() error {
	var file rulebookFile
	if err := m.files.ReadJSON(m.path, &file); err != nil {
		return err
	}
	servers := make(map[string][]*Response, len(file.Servers))
	for serverID, responses := range file.Servers {
		var kept []*Response
		for _, resp := range responses {
			compiled := 0
			for i := range resp.Patterns {
				p := &resp.Patterns[i]
				flags, err := ParseFlags(p.Flags)
				if err != nil {
					logging.Warn("Pattern %d in response %d (%s): %v", p.ID, resp.ID, serverID, err)
					continue
				}
				re, err := compile(p.Expr, flags)
				if err != nil {
					logging.Warn("Pattern %d in response %d (%s) failed to compile: %v", p.ID, resp.ID, serverID, err)
					continue
				}
				p.re = re
				compiled++
			}
			// Pattern-less responses are kept: authors add patterns in a
			// separate step
			if len(resp.Patterns) > 0 && compiled == 0 {
				logging.Warn("Dropping response %d (%s): no compilable patterns", resp.ID, serverID)
				continue
			}
			kept = append(kept, resp)
		}
		servers[serverID] = kept
	}
	m.mu.Lock()
	m.servers = servers
	m.mu.Unlock()
	return nil
}

// Match returns the first response, in definition order, with any pattern
// matching the text. Server-specific rules are tried before the default set.
func (m *Matcher) Match(serverID, text string) *Response {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, book := range [][]*Response{m.servers[serverID], m.servers["default"]} {
		for _, resp := range book {
			for i := range resp.Patterns {
				if resp.Patterns[i].re != nil && resp.Patterns[i].re.MatchString(text) {
					return resp
				}
			}
		}
	}
	return nil
}

// Responses returns the rulebook for a server in definition order.
func (m *Matcher) Responses(serverID string) []*Response {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.servers[serverID]
}

// AddResponse appends a response to a server's rulebook with the next id.
func (m *Matcher) AddResponse(serverID, name, text string) (int, error) {
	id := 0
	err := m.update(func(servers map[string][]*Response) error {
		for _, resp := range servers[serverID] {
			if resp.ID >= id {
				id = resp.ID
			}
		}
		id++
		servers[serverID] = append(servers[serverID], &Response{ID: id, Name: name, Text: text})
		return nil
	})
	return id, err
}

// RemoveResponse deletes a response by id.
func (m *Matcher) RemoveResponse(serverID string, responseID int) error {
	return m.update(func(servers map[string][]*Response) error {
		book := servers[serverID]
		for i, resp := range book {
			if resp.ID == responseID {
				servers[serverID] = append(book[:i], book[i+1:]...)
				return nil
			}
		}
		return fmt.Errorf("response %d not found for server %s", responseID, serverID)
	})
}

// AddPattern appends a pattern to a response, verifying it compiles first.
func (m *Matcher) AddPattern(serverID string, responseID int, name, expr, flagString string) (int, error) {
	flags, err := ParseFlags(flagString)
	if err != nil {
		return 0, err
	}
	if _, err := compile(expr, flags); err != nil {
		return 0, fmt.Errorf("pattern does not compile: %w", err)
	}
	id := 0
	err = m.update(func(servers map[string][]*Response) error {
		for _, resp := range servers[serverID] {
			for _, p := range resp.Patterns {
				if p.ID >= id {
					id = p.ID
				}
			}
		}
		id++
		for _, resp := range servers[serverID] {
			if resp.ID != responseID {
				continue
			}
			resp.Patterns = append(resp.Patterns, Pattern{ID: id, Name: name, Expr: expr, Flags: flags.String()})
			return nil
		}
		return fmt.Errorf("response %d not found for server %s", responseID, serverID)
	})
	return id, err
}

// RemovePattern deletes a pattern by id from a response.
func (m *Matcher) RemovePattern(serverID string, responseID, patternID int) error {
	return m.update(func(servers map[string][]*Response) error {
		for _, resp := range servers[serverID] {
			if resp.ID != responseID {
				continue
			}
			for i, p := range resp.Patterns {
				if p.ID == patternID {
					resp.Patterns = append(resp.Patterns[:i], resp.Patterns[i+1:]...)
					return nil
				}
			}
			return fmt.Errorf("pattern %d not found in response %d", patternID, responseID)
		}
		return fmt.Errorf("response %d not found for server %s", responseID, serverID)
	})
}

// update applies a mutation to the persisted rulebook, then reloads the
// compiled index so the in-memory state always reflects disk.
func (m *Matcher) update(fn func(map[string][]*Response) error) error {
	err := storage.UpdateJSON(m.files, m.path, func(file *rulebookFile) (bool, error) {
		if file.Servers == nil {
			file.Servers = make(map[string][]*Response)
		}
		if err := fn(file.Servers); err != nil {
			return false, err
		}
		return true, nil
	})
	if err != nil {
		return err
	}
	return m.Reload()
}
