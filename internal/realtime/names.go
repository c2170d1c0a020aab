package realtime

import "math/rand"

var (
	nameAdjectives = []string{
		"amber", "brisk", "calm", "daring", "eager", "fuzzy", "gentle", "hazel",
		"ivory", "jolly", "keen", "lively", "mellow", "nimble", "olive", "plucky",
		"quiet", "rustic", "silver", "tidy", "umber", "vivid", "witty", "zesty",
	}
	nameAnimals = []string{
		"badger", "crane", "dolphin", "falcon", "gopher", "heron", "ibex",
		"jackal", "koala", "lynx", "marmot", "newt", "otter", "puffin",
		"quail", "raven", "stoat", "tapir", "urchin", "vole", "walrus", "yak",
	}
)

// RandomDisplayName generates a two-word name for connections whose user has
// no display name, guests included.
func RandomDisplayName() string {
	adjective := nameAdjectives[rand.Intn(len(nameAdjectives))]
	animal := nameAnimals[rand.Intn(len(nameAnimals))]
	return adjective + " " + animal
}
