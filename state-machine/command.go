package state_machine

type cmdKind uint8

const (
	// cmdRecord stores an opaque value, anything that isn't one of the keyed commands
	cmdRecord cmdKind = iota
	cmdSet
	cmdGet
	cmdDel
)

func (k cmdKind) String() string {
	switch k {
	case cmdRecord:
		return "record"
	case cmdSet:
		return "set"
	case cmdGet:
		return "get"
	case cmdDel:
		return "del"
	}
	return "invalid"
}

type command struct {
	kind  cmdKind
	key   string
	value string
}
