package main

import "testing"

func TestCutFirstWord(t *testing.T) {
	verb, rest, ok := cutFirstWord("put boot.py /boot.py")
	if verb != "put" || rest != "boot.py /boot.py" || !ok {
		t.Fatalf("got verb=%q rest=%q ok=%v", verb, rest, ok)
	}

	verb, rest, ok = cutFirstWord("pwd")
	if verb != "pwd" || rest != "" || ok {
		t.Fatalf("got verb=%q rest=%q ok=%v", verb, rest, ok)
	}
}
