package patch

import (
	"fmt"
	"sort"
	"time"

	"github.com/isseis/go-obfuhook/internal/llil"
	"github.com/isseis/go-obfuhook/internal/tokenstream"
)

const (
	// CurrentSchemaVersion is the current patch record schema version.
	// Increment this when making breaking changes to the record format.
	CurrentSchemaVersion = 1
)

// ViewRecord is the persisted form of every patch held for one view.
type ViewRecord struct {
	// SchemaVersion identifies the record format version.
	SchemaVersion int `json:"schema_version"`

	// ViewID is the identity of the view the patches belong to.
	ViewID ViewID `json:"view_id"`

	// UpdatedAt is when the record was last saved.
	UpdatedAt time.Time `json:"updated_at"`

	// Patches are ordered by address.
	Patches []Record `json:"patches"`
}

// Record is the persisted form of a single patch.
type Record struct {
	Address uint64        `json:"address"`
	Length  int           `json:"length"`
	Tokens  []TokenRecord `json:"tokens"`
}

// TokenRecord is the persisted form of a token. Operation codes are stored
// numerically so markers unknown to this build survive a load/save cycle;
// Name is informational and ignored on load.
type TokenRecord struct {
	Kind  string `json:"kind"`
	Value uint64 `json:"value"`
	Name  string `json:"name,omitempty"`
}

// toRecord converts a patch into its persisted form.
func toRecord(p *Patch) Record {
	tokens := make([]TokenRecord, len(p.tokens))
	for i, tok := range p.tokens {
		tokens[i] = TokenRecord{Kind: tok.Kind.String(), Value: tok.Value}
		if tok.Kind == tokenstream.Operation && tok.Value <= uint64(^uint32(0)) {
			if op := llil.Operation(tok.Value); op.Known() {
				tokens[i].Name = op.String()
			}
		}
	}
	return Record{Address: p.Address, Length: p.Length, Tokens: tokens}
}

// fromRecord validates a persisted record and rebuilds the patch.
func fromRecord(r Record) (*Patch, error) {
	tokens := make([]tokenstream.Token, len(r.Tokens))
	for i, tr := range r.Tokens {
		kind, ok := tokenstream.ParseKind(tr.Kind)
		if !ok {
			return nil, fmt.Errorf("patch at %#x: token %d has unknown kind %q", r.Address, i, tr.Kind)
		}
		tokens[i] = tokenstream.Token{Kind: kind, Value: tr.Value}
	}
	return New(r.Address, r.Length, tokens)
}

// Persister moves patch records to and from durable storage.
type Persister interface {
	// LoadPatches returns the records saved for view.
	// Returns ErrRecordNotFound if nothing was ever saved for view.
	LoadPatches(view ViewID) ([]Record, error)

	// SavePatches replaces everything saved for view with records. A failed
	// save must leave the previously saved records readable.
	SavePatches(view ViewID, records []Record) error
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool { return records[i].Address < records[j].Address })
}
