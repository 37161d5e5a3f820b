package cache

import (
	"testing"

	"github.com/chazu/calyx/compiler"
	"github.com/chazu/calyx/pkg/bytecode"
)

func openTest(t *testing.T) *Cache {
	t.Helper()
	c, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

// compileSource turns source into clauses the way unit compilation
// does, without executing them.
func compileSource(t *testing.T, src string) ([]*bytecode.CompiledClause, []string) {
	t.Helper()
	globals := compiler.NewGlobals()
	em := bytecode.NewEmitter(globals)

	forms, err := compiler.Parse(src)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	var names []string
	for _, f := range forms {
		if f.IsCallTo("def") || f.IsCallTo("defconst") || f.IsCallTo("defun") {
			if _, err := globals.Define(f.List[1], f.IsCallTo("defconst")); err != nil {
				t.Fatalf("declare: %v", err)
			}
			names = append(names, f.List[1].Str)
		}
	}
	var clauses []*bytecode.CompiledClause
	for _, f := range forms {
		c, err := em.CompileTopForm(f, "(top)")
		if err != nil {
			t.Fatalf("compile: %v", err)
		}
		clauses = append(clauses, c)
	}
	return clauses, names
}

func TestKeyStability(t *testing.T) {
	if Key("(+ 1 2)") != Key("(+ 1 2)") {
		t.Error("same source hashes differently")
	}
	if Key("(+ 1 2)") == Key("(+ 1 3)") {
		t.Error("different sources share a key")
	}
}

func TestStoreAndLoad(t *testing.T) {
	c := openTest(t)
	src := "(defun sq (x) (* x x)) (sq 9)"
	clauses, names := compileSource(t, src)
	key := Key(src)

	if _, _, _, hit, err := c.Load(key); err != nil || hit {
		t.Fatalf("cold load: hit=%v err=%v", hit, err)
	}

	base := []string{"print", "println"}
	if err := c.Store(key, clauses, base, names); err != nil {
		t.Fatal(err)
	}

	got, gotBase, gotNames, hit, err := c.Load(key)
	if err != nil || !hit {
		t.Fatalf("warm load: hit=%v err=%v", hit, err)
	}
	if len(got) != len(clauses) {
		t.Errorf("clauses = %d, want %d", len(got), len(clauses))
	}
	if len(gotBase) != 2 || gotBase[0] != "print" || gotBase[1] != "println" {
		t.Errorf("base table = %v, want %v", gotBase, base)
	}
	if len(gotNames) != 1 || gotNames[0] != "sq" {
		t.Errorf("globals = %v, want [sq]", gotNames)
	}
}

func TestStoreReplaces(t *testing.T) {
	c := openTest(t)
	clauses, names := compileSource(t, "(+ 1 2)")
	key := Key("same-source")

	if err := c.Store(key, clauses, nil, names); err != nil {
		t.Fatal(err)
	}
	bigger, names2 := compileSource(t, "(+ 1 2) (+ 3 4)")
	if err := c.Store(key, bigger, nil, names2); err != nil {
		t.Fatal(err)
	}

	got, _, _, hit, err := c.Load(key)
	if err != nil || !hit {
		t.Fatalf("load: hit=%v err=%v", hit, err)
	}
	if len(got) != 2 {
		t.Errorf("clauses = %d, want the replacement's 2", len(got))
	}
}

func TestCorruptedEntryEvicted(t *testing.T) {
	c := openTest(t)
	key := Key("broken")
	_, err := c.db.Exec(
		`INSERT INTO units (id, source_key, version, unit, created_at)
		 VALUES ('x', ?, ?, ?, '2026-01-01T00:00:00Z')`,
		key, bytecode.WireVersion, []byte("garbage"),
	)
	if err != nil {
		t.Fatal(err)
	}

	// Undecodable entries read as misses and are removed.
	if _, _, _, hit, err := c.Load(key); err != nil || hit {
		t.Fatalf("load of corrupted entry: hit=%v err=%v", hit, err)
	}
	var n int
	if err := c.db.QueryRow(`SELECT COUNT(*) FROM units`).Scan(&n); err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("corrupted entry still present (%d rows)", n)
	}
}

func TestPurge(t *testing.T) {
	c := openTest(t)
	clauses, names := compileSource(t, "1")
	key := Key("1")
	if err := c.Store(key, clauses, nil, names); err != nil {
		t.Fatal(err)
	}
	if err := c.Purge(); err != nil {
		t.Fatal(err)
	}
	if _, _, _, hit, err := c.Load(key); err != nil || hit {
		t.Errorf("load after purge: hit=%v err=%v", hit, err)
	}
}
