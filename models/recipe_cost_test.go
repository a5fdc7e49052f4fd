package models

import (
	"testing"
)

func ingredient(qty, factor, avgCost string) RecipeIngredient {
	return RecipeIngredient{
		Quantity:     dec(qty),
		Product:      &Product{AverageCost: dec(avgCost)},
		PurchaseUnit: &PurchaseUnit{ConversionFactor: dec(factor)},
	}
}

func TestComputeRecipeCost(t *testing.T) {
	// 100 g of an ingredient tracked in grams at 10 per gram
	lines := []RecipeIngredient{ingredient("100", "1", "10")}
	total, perUnit, err := ComputeRecipeCost(lines, dec("1"))
	if err != nil {
		t.Fatal(err)
	}
	if !total.Equal(dec("1000")) {
		t.Fatalf("total = %s, want 1000", total)
	}
	if !perUnit.Equal(dec("1000")) {
		t.Fatalf("perUnit = %s, want 1000", perUnit)
	}
	if !lines[0].CalculatedCost.Equal(dec("1000")) {
		t.Fatalf("line CalculatedCost = %s, want 1000", lines[0].CalculatedCost)
	}
}

func TestComputeRecipeCostMultipleLinesAndYield(t *testing.T) {
	// 0.5 kg flour (factor 1000) at 0.8/g  -> 400
	// 2 units egg (factor 1) at 150/un     -> 300
	// 200 ml milk (factor 1) at 1.2/ml     -> 240
	total, perUnit, err := ComputeRecipeCost([]RecipeIngredient{
		ingredient("0.5", "1000", "0.8"),
		ingredient("2", "1", "150"),
		ingredient("200", "1", "1.2"),
	}, dec("4"))
	if err != nil {
		t.Fatal(err)
	}
	if !total.Equal(dec("940")) {
		t.Fatalf("total = %s, want 940", total)
	}
	if !perUnit.Equal(dec("235")) {
		t.Fatalf("perUnit = %s, want 235", perUnit)
	}
}

func TestComputeRecipeCostEmptyIngredients(t *testing.T) {
	total, perUnit, err := ComputeRecipeCost(nil, dec("2"))
	if err != nil {
		t.Fatal(err)
	}
	if !total.IsZero() || !perUnit.IsZero() {
		t.Fatalf("empty recipe should cost zero, got total=%s perUnit=%s", total, perUnit)
	}
}

func TestComputeRecipeCostRejectsNonPositiveYield(t *testing.T) {
	for _, yield := range []string{"0", "-1"} {
		_, _, err := ComputeRecipeCost([]RecipeIngredient{
			ingredient("1", "1", "10"),
		}, dec(yield))
		if err == nil {
			t.Fatalf("yield %s should be rejected", yield)
		}
	}
}

func TestComputeRecipeCostRejectsDanglingReferences(t *testing.T) {
	_, _, err := ComputeRecipeCost([]RecipeIngredient{
		{Quantity: dec("1")},
	}, dec("1"))
	if err == nil {
		t.Fatal("ingredient without loaded associations should error")
	}
}

func TestPurchaseUnitToBaseQuantity(t *testing.T) {
	kg := PurchaseUnit{ConversionFactor: dec("1000")}
	if got := kg.ToBaseQuantity(dec("2.5")); !got.Equal(dec("2500")) {
		t.Fatalf("2.5 kg = %s g, want 2500", got)
	}
	dozen := PurchaseUnit{ConversionFactor: dec("12")}
	if got := dozen.ToBaseQuantity(dec("3")); !got.Equal(dec("36")) {
		t.Fatalf("3 dozen = %s units, want 36", got)
	}
	sack := PurchaseUnit{ConversionFactor: dec("25000")}
	if got := sack.ToBaseQuantity(dec("2")); !got.Equal(dec("50000")) {
		t.Fatalf("2 sacks of 25kg = %s g, want 50000", got)
	}
}
