package hub

import (
	"fmt"
	"math/rand"
)

var aliasAdjectives = []string{
	"Silent", "Swift", "Hidden", "Misty", "Lunar", "Crimson", "Velvet", "Amber",
	"Frozen", "Golden", "Hollow", "Ivory", "Jade", "Quiet", "Rusty", "Scarlet",
	"Shadow", "Solar", "Stormy", "Twilight", "Wild", "Cosmic", "Dusky", "Gentle",
	"Brave", "Clever", "Fuzzy", "Lucky", "Mellow", "Noble", "Sly", "Witty",
}

var aliasNouns = []string{
	"Fox", "Owl", "Wolf", "Raven", "Tiger", "Panda", "Falcon", "Otter",
	"Lynx", "Hawk", "Badger", "Heron", "Koala", "Moth", "Orca", "Puma",
	"Comet", "Ember", "Willow", "River", "Cedar", "Nebula", "Pebble", "Quartz",
	"Sparrow", "Viper", "Whale", "Yak", "Bison", "Crane", "Gecko", "Mantis",
}

const aliasAttempts = 8

// newAlias 生成“形容词+名词+数字”形式的匿名昵称，与 taken 冲突时重试，
// 多次冲突后追加随机后缀。
func newAlias(taken func(string) bool) string {
	var alias string
	for i := 0; i < aliasAttempts; i++ {
		alias = fmt.Sprintf("%s%s%d",
			aliasAdjectives[rand.Intn(len(aliasAdjectives))],
			aliasNouns[rand.Intn(len(aliasNouns))],
			1000+rand.Intn(9000))
		if !taken(alias) {
			return alias
		}
	}
	for {
		candidate := fmt.Sprintf("%s-%04x", alias, rand.Intn(1<<16))
		if !taken(candidate) {
			return candidate
		}
	}
}
