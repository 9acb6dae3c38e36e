package merging

import "github.com/Ramsey-B/fern/pkg/models"

// Result is what a converter yields for one entity: None, One or Many.
type Result interface {
	result()
}

type None struct{}

type One struct {
	Record models.Record
}

type Many struct {
	Records []models.Record
}

func (None) result() {}
func (One) result()  {}
func (Many) result() {}

// Records flattens r. A nil Result is treated as None.
func Records(r Result) []models.Record {
	switch v := r.(type) {
	case nil, None:
		return nil
	case One:
		if v.Record == nil {
			return nil
		}
		return []models.Record{v.Record}
	case Many:
		out := make([]models.Record, 0, len(v.Records))
		for _, rec := range v.Records {
			if rec != nil {
				out = append(out, rec)
			}
		}
		return out
	default:
		panic("merging: unknown Result variant")
	}
}

// Of wraps records in the narrowest Result.
func Of(records ...models.Record) Result {
	switch len(records) {
	case 0:
		return None{}
	case 1:
		return One{Record: records[0]}
	default:
		return Many{Records: records}
	}
}
