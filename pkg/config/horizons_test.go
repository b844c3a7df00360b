package config

import (
	"reflect"
	"testing"
)

func TestParseHorizons(t *testing.T) {
	tests := []struct {
		input   string
		want    []int
		wantErr bool
	}{
		{"1,5,10", []int{1, 5, 10}, false},
		{" 1, 5 , 10 ", []int{1, 5, 10}, false},
		{"", nil, false},
		{"5", []int{5}, false},
		{"1,x", nil, true},
		{"-1", nil, true},
	}
	for _, tt := range tests {
		got, err := parseHorizons(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseHorizons(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			continue
		}
		if !tt.wantErr && !reflect.DeepEqual(got, tt.want) {
			t.Errorf("parseHorizons(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}

func TestFormatHorizonsRoundTrip(t *testing.T) {
	horizons := []int{1, 5, 10, 20}
	got, err := parseHorizons(formatHorizons(horizons))
	if err != nil {
		t.Fatalf("round trip: %v", err)
	}
	if !reflect.DeepEqual(got, horizons) {
		t.Errorf("round trip = %v, want %v", got, horizons)
	}
}
