package table

//go:generate go run ../../../tools/staticTable -content ../../../tools/staticTable/qpack_static_table.txt -out static_entries.go

type StaticEntry struct {
	Name  string
	Value string
}

type fieldKey struct {
	name, value string
}

var (
	staticExact = make(map[fieldKey]uint64, len(staticEntries))
	staticNames = make(map[string]uint64, len(staticEntries))
)

func init() {
	for i, e := range staticEntries {
		staticExact[fieldKey{e.Name, e.Value}] = uint64(i)
		if _, ok := staticNames[e.Name]; !ok {
			staticNames[e.Name] = uint64(i)
		}
	}
}

// StaticLen is the number of entries in the static table.
func StaticLen() uint64 {
	return uint64(len(staticEntries))
}

// LookupStatic returns the static entry at index.
func LookupStatic(index uint64) (StaticEntry, error) {
	if index >= StaticLen() {
		return StaticEntry{}, &IndexError{Index: index, Static: true}
	}
	return staticEntries[index], nil
}

// FindStatic searches the static table. With exact set, index names an entry
// matching both name and value, otherwise only the name matched.
func FindStatic(name, value string) (index uint64, exact, found bool) {
	if i, ok := staticExact[fieldKey{name, value}]; ok {
		return i, true, true
	}
	if i, ok := staticNames[name]; ok {
		return i, false, true
	}
	return 0, false, false
}
