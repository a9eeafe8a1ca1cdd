// Package classifier maps free-text chat messages to a bounded set of
// theological interest tags using lexical pattern matching. Classification
// is pure: no state, no I/O, and a message matching nothing yields no tags.
package classifier

import (
	"regexp"
	"sort"
	"strings"
)

// Tag is a category label for a topic inferred from a chat message.
type Tag string

const (
	TagMariology   Tag = "Mariology"
	TagSaints      Tag = "Saints & Spirituality"
	TagScripture   Tag = "Sacred Scripture"
	TagDogma       Tag = "Dogmatic Theology"
	TagMoral       Tag = "Moral Theology"
	TagHistory     Tag = "Church History"
	TagApologetics Tag = "Apologetics"
	TagLiturgy     Tag = "Liturgy"
)

// vocabulary maps each tag to the keywords that trigger it. Entries are
// matched case-insensitively on word boundaries, in both English and
// Spanish since the chat surface is bilingual.
var vocabulary = map[Tag][]string{
	TagMariology: {
		"maria", "maría", "mary", "virgen", "virgin", "guadalupe", "rosario",
		"rosary", "fatima", "fátima", "lourdes", "inmaculada", "immaculate",
		"asunción", "assumption",
	},
	TagSaints: {
		"santo", "santa", "saint", "teresa", "juan de la cruz", "agustin",
		"agustín", "augustine", "benito", "benedict", "francisco", "francis",
		"espiritualidad", "spirituality", "oración", "prayer", "mística",
		"mystic",
	},
	TagScripture: {
		"biblia", "bible", "evangelio", "gospel", "salmo", "psalm", "pablo",
		"paul", "pedro", "peter", "jesus", "jesús", "cristo", "christ",
		"antiguo testamento", "old testament", "nuevo testamento",
		"new testament", "scripture",
	},
	TagDogma: {
		"trinidad", "trinity", "dios", "god", "espíritu santo", "holy spirit",
		"dogma", "credo", "creed", "fe", "faith", "salvación", "salvation",
		"gracia", "grace", "sacramento", "sacrament", "eucaristía",
		"eucharist", "misa", "mass", "doctrine",
	},
	TagMoral: {
		"pecado", "sin", "virtud", "virtue", "moral", "ética", "ethics",
		"conciencia", "conscience", "mandamientos", "commandments",
		"ley natural", "natural law", "familia", "family", "matrimonio",
		"marriage",
	},
	TagHistory: {
		"historia", "history", "concilio", "council", "reforma",
		"reformation", "cruzadas", "crusades", "inquisición", "inquisition",
		"edad media", "middle ages", "padres de la iglesia",
		"church fathers", "patrística", "patristics",
	},
	TagApologetics: {
		"ateísmo", "atheism", "protestante", "protestant", "secta", "verdad",
		"truth", "razón", "reason", "ciencia", "science", "evolución",
		"evolution", "existencia de dios", "existence of god", "prueba",
		"proof", "apologetics",
	},
	TagLiturgy: {
		"liturgia", "liturgy", "rito", "rite", "tiempo ordinario",
		"ordinary time", "cuaresma", "lent", "adviento", "advent", "navidad",
		"christmas", "pascua", "easter", "semana santa", "holy week",
	},
}

var (
	tags     []Tag
	patterns map[Tag]*regexp.Regexp
)

func init() {
	tags = make([]Tag, 0, len(vocabulary))
	patterns = make(map[Tag]*regexp.Regexp, len(vocabulary))
	for tag, keywords := range vocabulary {
		tags = append(tags, tag)
		quoted := make([]string, len(keywords))
		for i, kw := range keywords {
			quoted[i] = regexp.QuoteMeta(kw)
		}
		// \b is ASCII-only in Go regexp, so spell out word boundaries with
		// \p{L} to match accented Spanish vocabulary correctly.
		patterns[tag] = regexp.MustCompile(`(?i)(?:^|[^\p{L}])(?:` + strings.Join(quoted, "|") + `)(?:[^\p{L}]|$)`)
	}
	sort.Slice(tags, func(i, j int) bool { return tags[i] < tags[j] })
}

// Classify returns the set of interest tags whose vocabulary matches the
// message, sorted for deterministic output. A message matching nothing
// returns an empty slice; a tag is reported once regardless of how many of
// its keywords occur.
func Classify(message string) []Tag {
	if message == "" {
		return nil
	}
	var found []Tag
	for _, tag := range tags {
		if patterns[tag].MatchString(message) {
			found = append(found, tag)
		}
	}
	return found
}

// Tags returns all known interest tags in sorted order.
func Tags() []Tag {
	out := make([]Tag, len(tags))
	copy(out, tags)
	return out
}
