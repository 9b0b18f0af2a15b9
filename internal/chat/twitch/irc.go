package twitch

import "strings"

// ircMessage is one parsed IRC line:
//
//	@tags :prefix COMMAND params :trailing
type ircMessage struct {
	Tags     map[string]string
	Prefix   string
	Command  string
	Params   []string
	Trailing string
}

// Nick extracts the nick part of the prefix ("nick!user@host").
func (m ircMessage) Nick() string {
	if i := strings.IndexByte(m.Prefix, '!'); i >= 0 {
		return m.Prefix[:i]
	}
	return m.Prefix
}

func parseLine(raw string) ircMessage {
	m := ircMessage{Tags: map[string]string{}}
	rest := strings.TrimRight(raw, "\r\n")

	if strings.HasPrefix(rest, "@") {
		var tags string
		tags, rest = splitOnce(rest[1:])
		for _, kv := range strings.Split(tags, ";") {
			if kv == "" {
				continue
			}
			k, v, _ := strings.Cut(kv, "=")
			m.Tags[k] = unescapeTag(v)
		}
	}

	if strings.HasPrefix(rest, ":") {
		m.Prefix, rest = splitOnce(rest[1:])
	}

	if i := strings.Index(rest, " :"); i >= 0 {
		m.Trailing = rest[i+2:]
		rest = rest[:i]
	}

	fields := strings.Fields(rest)
	if len(fields) > 0 {
		m.Command = fields[0]
		m.Params = fields[1:]
	}
	return m
}

func splitOnce(s string) (head, rest string) {
	if i := strings.IndexByte(s, ' '); i >= 0 {
		return s[:i], strings.TrimLeft(s[i+1:], " ")
	}
	return s, ""
}

// unescapeTag handles the IRCv3 tag escapes Twitch actually emits.
func unescapeTag(v string) string {
	if !strings.Contains(v, "\\") {
		return v
	}
	var b strings.Builder
	b.Grow(len(v))
	for i := 0; i < len(v); i++ {
		if v[i] != '\\' || i == len(v)-1 {
			b.WriteByte(v[i])
			continue
		}
		i++
		switch v[i] {
		case ':':
			b.WriteByte(';')
		case 's':
			b.WriteByte(' ')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case '\\':
			b.WriteByte('\\')
		default:
			b.WriteByte(v[i])
		}
	}
	return b.String()
}
