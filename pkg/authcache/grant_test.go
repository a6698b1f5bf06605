package authcache

import (
	"testing"
)

func TestDBScopeMatches(t *testing.T) {
	testCases := []struct {
		name  string
		scope DBScope
		db    string
		want  bool
	}{
		{"denied rejects named db", DeniedScope(), "sales", false},
		{"denied rejects empty db", DeniedScope(), "", false},
		{"any accepts named db", AnyScope(), "sales", true},
		{"any accepts empty db", AnyScope(), "", true},
		{"exact hit", ExactScope("sales"), "sales", true},
		{"exact miss", ExactScope("sales"), "hr", false},
		{"exact is case sensitive", ExactScope("sales"), "Sales", false},
		{"wildcard prefix hit", WildcardScope("test%"), "test_db", true},
		{"wildcard prefix miss", WildcardScope("test%"), "prod_db", false},
		{"wildcard is case insensitive", WildcardScope("test%"), "TEST_DB", true},
		{"wildcard inner", WildcardScope("a%c"), "abc", true},
		{"wildcard inner miss", WildcardScope("a%c"), "abd", false},
		{"wildcard multi", WildcardScope("%sales%"), "eu_sales_2024", true},
		{"bare wildcard accepts empty", WildcardScope("%"), "", true},
		{"anchored wildcard rejects empty", WildcardScope("t%"), "", false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.scope.Matches(tc.db); got != tc.want {
				t.Errorf("%+v.Matches(%q) = %v, want %v", tc.scope, tc.db, got, tc.want)
			}
		})
	}
}

func TestScopeForDB(t *testing.T) {
	if got := ScopeForDB("sales%"); got.Kind != ScopeWildcard {
		t.Errorf("ScopeForDB(sales%%).Kind = %v, want ScopeWildcard", got.Kind)
	}
	if got := ScopeForDB("sales"); got.Kind != ScopeExact {
		t.Errorf("ScopeForDB(sales).Kind = %v, want ScopeExact", got.Kind)
	}
}
