package stats

import (
	"io"
	"reflect"
	"strings"
	"time"

	"github.com/google/pprof/profile"
)

// BuildProfile reflects over a struct of Counter_t/Cycles_t fields
// (the same shape Stats2String prints) and renders it as a pprof
// sample profile, the payload devfs's D_PROF device (§6) serves so
// `go tool pprof` can read kernel counters directly.
func BuildProfile(st interface{}) *profile.Profile {
	p := &profile.Profile{
		SampleType: []*profile.ValueType{
			{Type: "count", Unit: "count"},
			{Type: "time", Unit: "nanoseconds"},
		},
		TimeNanos: time.Now().UnixNano(),
	}

	loc := &profile.Location{ID: 1}
	fn := &profile.Function{ID: 1, Name: "kernel"}
	loc.Line = []profile.Line{{Function: fn}}
	p.Function = []*profile.Function{fn}
	p.Location = []*profile.Location{loc}

	v := reflect.ValueOf(st)
	for i := 0; i < v.NumField(); i++ {
		name := v.Type().Field(i).Name
		t := v.Field(i).Type().String()
		switch {
		case strings.HasSuffix(t, "Counter_t"):
			n := v.Field(i).Interface().(Counter_t)
			p.Sample = append(p.Sample, &profile.Sample{
				Location: []*profile.Location{loc},
				Value:    []int64{int64(n), 0},
				Label:    map[string][]string{"counter": {name}},
			})
		case strings.HasSuffix(t, "Cycles_t"):
			n := v.Field(i).Interface().(Cycles_t)
			p.Sample = append(p.Sample, &profile.Sample{
				Location: []*profile.Location{loc},
				Value:    []int64{0, int64(n)},
				Label:    map[string][]string{"counter": {name}},
			})
		}
	}
	return p
}

// WriteProfile serializes a counters struct as a gzip-compressed
// pprof profile onto w.
func WriteProfile(w io.Writer, st interface{}) error {
	return BuildProfile(st).Write(w)
}
