package text

import (
	"encoding/json"
	"os"
	"sort"

	"github.com/pkg/errors"
)

var (
	// ErrUnknownRune is returned when a rune is not part of the vocabulary.
	ErrUnknownRune = errors.New("rune not in vocabulary")
	// ErrUnknownIndex is returned when an index is outside [0, Size).
	ErrUnknownIndex = errors.New("index not in vocabulary")
)

// Vocab maps every distinct rune of a corpus to a stable index. Runes are
// sorted, so the same text always yields the same assignment.
type Vocab struct {
	toID   map[rune]int
	toRune []rune
}

// BuildVocab creates the vocabulary of the given (normalized) text.
func BuildVocab(corpus string) *Vocab {
	seen := make(map[rune]struct{})
	for _, r := range corpus {
		seen[r] = struct{}{}
	}

	runes := make([]rune, 0, len(seen))
	for r := range seen {
		runes = append(runes, r)
	}
	sort.Slice(runes, func(i, j int) bool { return runes[i] < runes[j] })

	return fromRunes(runes)
}

func fromRunes(runes []rune) *Vocab {
	v := &Vocab{
		toID:   make(map[rune]int, len(runes)),
		toRune: runes,
	}
	for i, r := range runes {
		v.toID[r] = i
	}
	return v
}

// Size returns the number of entries.
func (v *Vocab) Size() int {
	return len(v.toRune)
}

// Runes returns a copy of the sorted runes.
func (v *Vocab) Runes() []rune {
	return append([]rune(nil), v.toRune...)
}

func (v *Vocab) Index(r rune) (int, error) {
	id, ok := v.toID[r]
	if !ok {
		return 0, errors.Wrapf(ErrUnknownRune, "%q", r)
	}
	return id, nil
}

func (v *Vocab) Rune(id int) (rune, error) {
	if id < 0 || id >= len(v.toRune) {
		return 0, errors.Wrapf(ErrUnknownIndex, "%d", id)
	}
	return v.toRune[id], nil
}

// Encode converts text to indices. It fails on the first rune that has no
// index.
func (v *Vocab) Encode(s string) ([]int, error) {
	ids := make([]int, 0, len(s))
	for _, r := range s {
		id, err := v.Index(r)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Decode converts indices back to text.
func (v *Vocab) Decode(ids []int) (string, error) {
	out := make([]rune, len(ids))
	for i, id := range ids {
		r, err := v.Rune(id)
		if err != nil {
			return "", err
		}
		out[i] = r
	}
	return string(out), nil
}

// Equal reports whether both vocabularies assign the same indices.
func (v *Vocab) Equal(o *Vocab) bool {
	if v == nil || o == nil {
		return v == o
	}
	if len(v.toRune) != len(o.toRune) {
		return false
	}
	for i := range v.toRune {
		if v.toRune[i] != o.toRune[i] {
			return false
		}
	}
	return true
}

type vocabData struct {
	Runes string `json:"runes"`
	Size  int    `json:"size"`
}

// MarshalJSON stores the vocabulary as its sorted runes.
func (v *Vocab) MarshalJSON() ([]byte, error) {
	return json.Marshal(vocabData{Runes: string(v.toRune), Size: len(v.toRune)})
}

func (v *Vocab) UnmarshalJSON(b []byte) error {
	var d vocabData
	if err := json.Unmarshal(b, &d); err != nil {
		return err
	}
	runes := []rune(d.Runes)
	if len(runes) != d.Size {
		return errors.Errorf("vocabulary size %d does not match %d stored runes", d.Size, len(runes))
	}
	nv, err := FromRunes(runes)
	if err != nil {
		return err
	}
	*v = *nv
	return nil
}

// FromRunes rebuilds a vocabulary from runes previously returned by Runes.
func FromRunes(runes []rune) (*Vocab, error) {
	for i := 1; i < len(runes); i++ {
		if runes[i-1] >= runes[i] {
			return nil, errors.Errorf("vocabulary runes not sorted at %d", i)
		}
	}
	return fromRunes(append([]rune(nil), runes...)), nil
}

// SaveVocab writes the vocabulary to path as JSON.
func SaveVocab(path string, v *Vocab) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create vocabulary file")
	}
	defer f.Close()

	encoder := json.NewEncoder(f)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return errors.Wrap(err, "encode vocabulary")
	}
	return nil
}

// LoadVocab reads a vocabulary written by SaveVocab.
func LoadVocab(path string) (*Vocab, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open vocabulary file")
	}
	defer f.Close()

	v := new(Vocab)
	if err := json.NewDecoder(f).Decode(v); err != nil {
		return nil, errors.Wrap(err, "decode vocabulary")
	}
	return v, nil
}
