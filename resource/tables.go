package resource

// Tables are the exact-match path substitutions applied by the policy. They
// are copied at construction and never change afterwards.
type Tables struct {
	rewrite  map[string]string
	redirect map[string]string
}

// NewTables copies rewrite, applied to the requested path before the call,
// and redirect, applied to the returned record after it.
func NewTables(rewrite, redirect map[string]string) Tables {
	return Tables{rewrite: clone(rewrite), redirect: clone(redirect)}
}

func clone(m map[string]string) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// DefaultRewrites are the built-in pre-call substitutions.
func DefaultRewrites() map[string]string {
	return map[string]string{
		"music/ex2/BGM_EX2_System_Title.scd": "music/ex3/BGM_EX3_Ban_03.scd",
		"ui/uld/Title_Logo400.uld":           "ui/uld/Title_Logo300.uld",
	}
}

// DefaultRedirects are the built-in post-call record path overwrites.
func DefaultRedirects() map[string]string {
	return map[string]string{
		"music/ex2/BGM_EX2_System_Title.scd": "music/ex2/BGM_EX2_Town_K_Day.scd",
	}
}

// DefaultTables combines DefaultRewrites and DefaultRedirects.
func DefaultTables() Tables {
	return NewTables(DefaultRewrites(), DefaultRedirects())
}

func (t Tables) Rewrite(path string) (string, bool) {
	to, ok := t.rewrite[path]
	return to, ok
}

func (t Tables) Redirect(path string) (string, bool) {
	to, ok := t.redirect[path]
	return to, ok
}
