package types

import (
	"bytes"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Changeset is the structured view of a changeset's content. The content is
// stored and hashed as an opaque blob; only this parser and generator know
// its internal layout:
//
//	<root manifest hex>
//	<user>
//	<time> <timezone>[ <extra>]
//	<touched file>...
//	<blank line>
//	<commit message>
//
// Extra is a set of key/value pairs, escaped and \x00-joined on the third
// line.
type Changeset struct {
	ManifestID Hash
	User       []byte
	Time       int64 // seconds since epoch
	Timezone   int   // offset in seconds west of UTC
	Extra      map[string][]byte
	Files      []string
	Comments   []byte
}

// ParseChangeset decodes the opaque changeset content.
func ParseChangeset(content []byte) (*Changeset, error) {
	split := bytes.SplitN(content, []byte("\n\n"), 2)
	if len(split) != 2 {
		return nil, fmt.Errorf("changeset content lacks description separator")
	}
	header, comments := split[0], split[1]

	lines := bytes.Split(header, []byte("\n"))
	if len(lines) < 3 {
		return nil, fmt.Errorf("changeset header has %d lines, expected at least 3", len(lines))
	}

	mfid, err := HashFromHex(string(lines[0]))
	if err != nil {
		return nil, fmt.Errorf("changeset manifest line: %w", err)
	}

	user := lines[1]

	timeParts := strings.SplitN(string(lines[2]), " ", 3)
	if len(timeParts) < 2 {
		return nil, fmt.Errorf("changeset time line %q: expected \"time tz [extra]\"", lines[2])
	}
	when, err := strconv.ParseInt(timeParts[0], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("changeset time: %w", err)
	}
	tz, err := strconv.Atoi(timeParts[1])
	if err != nil {
		return nil, fmt.Errorf("changeset timezone: %w", err)
	}

	var extra map[string][]byte
	if len(timeParts) == 3 {
		extra, err = decodeExtra(timeParts[2])
		if err != nil {
			return nil, err
		}
	}

	var files []string
	for _, line := range lines[3:] {
		files = append(files, string(line))
	}

	return &Changeset{
		ManifestID: mfid,
		User:       append([]byte(nil), user...),
		Time:       when,
		Timezone:   tz,
		Extra:      extra,
		Files:      files,
		Comments:   append([]byte(nil), comments...),
	}, nil
}

// Generate encodes the changeset back into its opaque content form. The
// output is deterministic: extra keys are sorted.
func (cs *Changeset) Generate() ([]byte, error) {
	if bytes.ContainsRune(cs.User, '\n') {
		return nil, fmt.Errorf("changeset user %q contains newline", cs.User)
	}

	var buf bytes.Buffer
	buf.WriteString(cs.ManifestID.String())
	buf.WriteByte('\n')
	buf.Write(cs.User)
	buf.WriteByte('\n')
	buf.WriteString(strconv.FormatInt(cs.Time, 10))
	buf.WriteByte(' ')
	buf.WriteString(strconv.Itoa(cs.Timezone))
	if len(cs.Extra) > 0 {
		buf.WriteByte(' ')
		buf.WriteString(encodeExtra(cs.Extra))
	}
	for _, f := range cs.Files {
		buf.WriteByte('\n')
		buf.WriteString(f)
	}
	buf.WriteString("\n\n")
	buf.Write(cs.Comments)

	return buf.Bytes(), nil
}

// extraEscaper escapes characters that would corrupt the \x00-joined pair
// list. \x00 separates pairs, so it must never appear unescaped inside one.
var extraEscaper = strings.NewReplacer(
	"\\", "\\\\",
	"\x00", "\\0",
	"\n", "\\n",
	"\r", "\\r",
)

func encodeExtra(extra map[string][]byte) string {
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pair := k + ":" + string(extra[k])
		pairs = append(pairs, extraEscaper.Replace(pair))
	}
	return strings.Join(pairs, "\x00")
}

func decodeExtra(encoded string) (map[string][]byte, error) {
	extra := make(map[string][]byte)
	for _, pair := range strings.Split(encoded, "\x00") {
		unescaped, err := unescapePair(pair)
		if err != nil {
			return nil, err
		}
		kv := strings.SplitN(unescaped, ":", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("changeset extra pair %q lacks separator", pair)
		}
		extra[kv[0]] = []byte(kv[1])
	}
	return extra, nil
}

func unescapePair(pair string) (string, error) {
	var out strings.Builder
	for i := 0; i < len(pair); i++ {
		c := pair[i]
		if c != '\\' {
			out.WriteByte(c)
			continue
		}
		i++
		if i == len(pair) {
			return "", fmt.Errorf("changeset extra pair %q ends mid-escape", pair)
		}
		switch pair[i] {
		case '\\':
			out.WriteByte('\\')
		case '0':
			out.WriteByte(0)
		case 'n':
			out.WriteByte('\n')
		case 'r':
			out.WriteByte('\r')
		default:
			return "", fmt.Errorf("changeset extra pair %q has unknown escape \\%c", pair, pair[i])
		}
	}
	return out.String(), nil
}
