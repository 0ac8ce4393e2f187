package item

import (
	"reflect"
	"strings"
	"testing"
)

func TestParseList_QuantityAndStar(t *testing.T) {
	got, err := ParseList("3x Poção de Cura, Adaga*")
	if err != nil {
		t.Fatalf("ParseList: %v", err)
	}
	want := []Stack{
		{Name: "Poção de Cura", ValidationName: "Poção de Cura", Amount: 3},
		{Name: "Adaga", ValidationName: "Adaga", Amount: 1, Predefined: true},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected stacks: %+v", got)
	}
}

func TestParseList_MergesCaseInsensitive(t *testing.T) {
	got, err := ParseList("2x adaga, Adaga, 1x ADAGA")
	if err != nil {
		t.Fatalf("ParseList: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 stack, got %d", len(got))
	}
	if got[0].Amount != 4 {
		t.Fatalf("expected amount 4, got %d", got[0].Amount)
	}
	if got[0].Name != "adaga" {
		t.Fatalf("expected first-occurrence casing, got %q", got[0].Name)
	}
}

func TestParseList_BracketSuffixOnlyStrippedForValidation(t *testing.T) {
	got, err := ParseList("Espada Longa [lâmina rúnica]")
	if err != nil {
		t.Fatalf("ParseList: %v", err)
	}
	if got[0].Name != "Espada Longa [lâmina rúnica]" {
		t.Fatalf("display name lost suffix: %q", got[0].Name)
	}
	if got[0].ValidationName != "Espada Longa" {
		t.Fatalf("validation name kept suffix: %q", got[0].ValidationName)
	}
}

func TestParseList_RejectsZeroQuantity(t *testing.T) {
	if _, err := ParseList("0x Adaga"); err == nil {
		t.Fatal("expected error for zero quantity")
	}
}

func TestParseList_SkipsEmptyEntries(t *testing.T) {
	got, err := ParseList(" , Adaga, ,")
	if err != nil {
		t.Fatalf("ParseList: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 stack, got %d", len(got))
	}
}

func TestFormatList_SortedAndStarred(t *testing.T) {
	text := FormatList([]Stack{
		{Name: "Poção de Cura", Amount: 3},
		{Name: "Adaga", Amount: 1, Predefined: true},
		{Name: "Sucata", Amount: 0},
	})
	if text != "Adaga*, 3x Poção de Cura" {
		t.Fatalf("unexpected format: %q", text)
	}
}

// Round trip: format(parse(text)) reparses to the same name->amount multiset.
func TestCodec_RoundTrip(t *testing.T) {
	inputs := []string{
		"3x Poção de Cura, Adaga*",
		"Espada Longa [antiga], 2x espada longa [antiga]",
		"10x Ferro, Couro, 5x Erva do Sono",
	}
	for _, input := range inputs {
		first, err := ParseList(input)
		if err != nil {
			t.Fatalf("parse %q: %v", input, err)
		}
		second, err := ParseList(FormatList(first))
		if err != nil {
			t.Fatalf("reparse %q: %v", input, err)
		}
		if len(first) != len(second) {
			t.Fatalf("%q: stack count changed: %d vs %d", input, len(first), len(second))
		}
		for _, s := range first {
			if got := Count(second, s.Name); got != s.Amount {
				t.Fatalf("%q: %s amount %d != %d", input, s.Name, got, s.Amount)
			}
		}
	}
}

func TestMerge_RemovalDropsEmptiedStacks(t *testing.T) {
	current, _ := ParseList("3x Ferro, Couro")
	removal, _ := ParseList("3x ferro")
	got := Merge(current, Negate(removal))
	if len(got) != 1 || !strings.EqualFold(got[0].Name, "Couro") {
		t.Fatalf("unexpected merge result: %+v", got)
	}
}

func TestMerge_AddsNewStacks(t *testing.T) {
	current, _ := ParseList("Couro")
	add, _ := ParseList("2x Ferro")
	got := Merge(current, add)
	if Count(got, "Ferro") != 2 || Count(got, "Couro") != 1 {
		t.Fatalf("unexpected merge result: %+v", got)
	}
}
