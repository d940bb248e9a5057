package core

import (
	"regexp"
	"sync"
)

// Signal is one tag drawn from a closed vocabulary. The controller's state
// machine only ever sees typed Signal values, never raw process output.
type Signal string

const (
	SignalContinue Signal = "CONTINUE"
	SignalPause    Signal = "PAUSE"
	SignalReady    Signal = "READY"
	SignalBlocked  Signal = "BLOCKED"
	SignalComplete Signal = "COMPLETE"
)

// Vocabulary is a closed set of recognized tags plus the conservative member
// returned when no tag (or more than one distinct tag) is found. The loop
// never infers permission to continue from missing data.
type Vocabulary struct {
	Tags    []Signal
	Default Signal
}

// ReviewVocabulary gates the preflight and postflight review phases.
// Anything other than an unambiguous CONTINUE pauses the loop.
func ReviewVocabulary() Vocabulary {
	return Vocabulary{Tags: []Signal{SignalContinue, SignalPause}, Default: SignalPause}
}

// InitVocabulary gates session initialization. Anything other than an
// unambiguous READY blocks the session.
func InitVocabulary() Vocabulary {
	return Vocabulary{Tags: []Signal{SignalReady, SignalBlocked}, Default: SignalBlocked}
}

// tagPatterns caches the compiled pattern for each tag. Tags are written as
// [[TAG]] in process output; whitespace (including newlines) is tolerated
// around and inside the brackets, but the token text must match exactly.
var (
	tagPatternsMu sync.Mutex
	tagPatterns   = map[Signal]*regexp.Regexp{}
)

func patternFor(tag Signal) *regexp.Regexp {
	tagPatternsMu.Lock()
	defer tagPatternsMu.Unlock()

	if re, ok := tagPatterns[tag]; ok {
		return re
	}
	re := regexp.MustCompile(`\[\[\s*` + regexp.QuoteMeta(string(tag)) + `\s*\]\]`)
	tagPatterns[tag] = re
	return re
}

// ExtractSignal scans free-text process output for the vocabulary's tags.
// Exactly one distinct recognized tag yields that tag; zero or conflicting
// tags yield the vocabulary's conservative default. The function is total:
// it never fails and never blocks, regardless of input.
func ExtractSignal(output string, vocab Vocabulary) Signal {
	var found []Signal
	for _, tag := range vocab.Tags {
		if patternFor(tag).MatchString(output) {
			found = append(found, tag)
		}
	}
	if len(found) != 1 {
		return vocab.Default
	}
	return found[0]
}

// ContainsSignal reports whether output carries the given tag. Used for the
// [[COMPLETE]] completion signal, which is independent of the review
// vocabulary and short-circuits the whole session.
func ContainsSignal(output string, tag Signal) bool {
	return patternFor(tag).MatchString(output)
}
