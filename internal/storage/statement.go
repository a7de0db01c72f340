package storage

import (
	"fmt"
	"regexp"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"piggy/internal/metrics"
)

type statementPath string

const (
	readPath  statementPath = "read"
	writePath statementPath = "write"
)

const verdictCacheSize = 256

var (
	leadingKeyword = regexp.MustCompile(`^\s*([A-Za-z]+)`)

	// filteredDelete requires a WHERE keyword after the target table.
	filteredDelete = regexp.MustCompile(`(?is)^DELETE\s+FROM\s+\S+\s.*\bWHERE\b`)

	// forbiddenWrite lists keywords that change schema or engine state.
	forbiddenWrite = regexp.MustCompile(`(?i)\b(DROP|TRUNCATE|ALTER|CREATE|ATTACH|DETACH|PRAGMA|VACUUM)\b`)

	// forbiddenRead additionally catches data-modifying statements hidden behind a CTE.
	forbiddenRead = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|REPLACE|DROP|TRUNCATE|ALTER|CREATE|ATTACH|DETACH|PRAGMA|VACUUM)\b`)
)

// statementChecker validates statement shapes and remembers verdicts, since
// the same handful of statements is issued over and over.
type statementChecker struct {
	verdicts *lru.Cache[string, error]
}

func newStatementChecker() *statementChecker {
	cache, err := lru.New[string, error](verdictCacheSize)
	if err != nil {
		// Only possible with a non-positive size.
		panic(err)
	}
	return &statementChecker{verdicts: cache}
}

func (c *statementChecker) check(path statementPath, stmt string) error {
	key := string(path) + "\x00" + stmt
	if verdict, ok := c.verdicts.Get(key); ok {
		if verdict != nil {
			metrics.RejectedStatements.WithLabelValues(string(path)).Inc()
		}
		return verdict
	}

	var verdict error
	if path == readPath {
		verdict = checkRead(stmt)
	} else {
		verdict = checkWrite(stmt)
	}
	c.verdicts.Add(key, verdict)
	if verdict != nil {
		metrics.RejectedStatements.WithLabelValues(string(path)).Inc()
	}
	return verdict
}

func reject(reason string) error {
	return fmt.Errorf("%w: %s", ErrRejectedStatement, reason)
}

// maskQuoted collapses string literals and quoted identifiers to an empty
// pair of quotes, so later checks only see SQL syntax.
func maskQuoted(stmt string) (string, error) {
	var b strings.Builder
	b.Grow(len(stmt))
	for i := 0; i < len(stmt); i++ {
		c := stmt[i]
		if c != '\'' && c != '"' && c != '`' {
			b.WriteByte(c)
			continue
		}
		end := closingQuote(stmt, i)
		if end < 0 {
			return "", reject("unterminated quoted text")
		}
		b.WriteByte(c)
		b.WriteByte(c)
		i = end
	}
	return b.String(), nil
}

// closingQuote returns the index of the quote closing the one at open. A
// doubled quote is an escape.
func closingQuote(s string, open int) int {
	q := s[open]
	for i := open + 1; i < len(s); i++ {
		if s[i] != q {
			continue
		}
		if i+1 < len(s) && s[i+1] == q {
			i++
			continue
		}
		return i
	}
	return -1
}

// commonShape rejects empty, stacked and commented statements. A single
// trailing semicolon is tolerated. The returned statement has its quoted
// text masked.
func commonShape(stmt string) (string, error) {
	s, err := maskQuoted(strings.TrimSpace(stmt))
	if err != nil {
		return "", err
	}
	s = strings.TrimSpace(strings.TrimSuffix(s, ";"))
	if s == "" {
		return "", reject("empty statement")
	}
	if strings.Contains(s, ";") {
		return "", reject("multiple statements")
	}
	if strings.Contains(s, "--") || strings.Contains(s, "/*") {
		return "", reject("comments are not allowed")
	}
	return s, nil
}

func firstKeyword(s string) string {
	m := leadingKeyword.FindStringSubmatch(s)
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1])
}

func checkRead(stmt string) error {
	s, err := commonShape(stmt)
	if err != nil {
		return err
	}
	switch firstKeyword(s) {
	case "SELECT", "WITH":
	default:
		return reject("read statements must start with SELECT or WITH")
	}
	if m := forbiddenRead.FindString(s); m != "" {
		return reject(strings.ToUpper(m) + " is not allowed in a read statement")
	}
	return nil
}

func checkWrite(stmt string) error {
	s, err := commonShape(stmt)
	if err != nil {
		return err
	}
	keyword := firstKeyword(s)
	switch keyword {
	case "INSERT", "UPDATE", "DELETE", "REPLACE":
	default:
		return reject("write statements must start with INSERT, UPDATE, DELETE or REPLACE")
	}
	if m := forbiddenWrite.FindString(s); m != "" {
		return reject(strings.ToUpper(m) + " is not allowed")
	}
	if keyword == "DELETE" && !filteredDelete.MatchString(s) {
		return reject("DELETE without WHERE")
	}
	return nil
}
