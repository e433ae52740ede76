package rag

import "testing"

func TestIsConversational(t *testing.T) {
	cases := map[string]bool{
		"hello":                                true,
		"Hi there!":                            true,
		"thanks":                               true,
		"ok":                                   true,
		"blockchain?":                          true,
		"What is blockchain scalability?":      false,
		"How do the authors evaluate latency?": false,
		"":                                     true,
		"   ":                                  true,
	}
	for q, want := range cases {
		if got := IsConversational(q); got != want {
			t.Fatalf("IsConversational(%q) = %v, want %v", q, got, want)
		}
	}
}
