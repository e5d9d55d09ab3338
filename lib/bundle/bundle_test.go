// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package bundle

import (
	"context"
	"errors"
	"slices"
	"testing"
)

func TestEncodeDecode(t *testing.T) {
	data, err := Encode("characters", map[string][]byte{
		"hero":    []byte("hero-body"),
		"villain": []byte("villain-body"),
		"empty":   {},
	})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	decoded, err := Decode(context.Background(), "characters", data)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if decoded.Name() != "characters" {
		t.Errorf("Name() = %q", decoded.Name())
	}
	if got := decoded.Assets(); !slices.Equal(got, []string{"empty", "hero", "villain"}) {
		t.Errorf("Assets() = %v", got)
	}
	if decoded.Size() != len("hero-body")+len("villain-body") {
		t.Errorf("Size() = %d", decoded.Size())
	}

	value, err := decoded.LoadAsset(context.Background(), "hero")
	if err != nil {
		t.Fatalf("LoadAsset: %v", err)
	}
	if string(value.([]byte)) != "hero-body" {
		t.Errorf("hero = %q", value)
	}
}

func TestLoadAssetReturnsCopy(t *testing.T) {
	data, err := Encode("b", map[string][]byte{"a": []byte("original")})
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(context.Background(), "b", data)
	if err != nil {
		t.Fatal(err)
	}

	first, _ := decoded.LoadAsset(context.Background(), "a")
	first.([]byte)[0] = 'X'
	second, _ := decoded.LoadAsset(context.Background(), "a")
	if string(second.([]byte)) != "original" {
		t.Errorf("mutating a loaded asset changed the bundle: %q", second)
	}
}

func TestLoadAssetErrors(t *testing.T) {
	data, err := Encode("b", map[string][]byte{"a": []byte("x")})
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := Decode(context.Background(), "b", data)
	if err != nil {
		t.Fatal(err)
	}

	if _, err := decoded.LoadAsset(context.Background(), "nope"); !errors.Is(err, ErrAssetNotFound) {
		t.Errorf("missing asset = %v, want ErrAssetNotFound", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := decoded.LoadAsset(ctx, "a"); !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled LoadAsset = %v", err)
	}

	if err := decoded.Close(); err != nil {
		t.Fatal(err)
	}
	if err := decoded.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
	if _, err := decoded.LoadAsset(context.Background(), "a"); !errors.Is(err, ErrClosed) {
		t.Errorf("LoadAsset after Close = %v, want ErrClosed", err)
	}
}

func TestDecodeRejects(t *testing.T) {
	valid, err := Encode("shared", nil)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		as   string
		data []byte
	}{
		{"garbage", "shared", []byte{0xff, 0x00, 0x13}},
		{"wrong name", "characters", valid},
		{"empty", "shared", nil},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			if _, err := (Decoder{}).Decode(context.Background(), test.as, test.data); err == nil {
				t.Error("Decode succeeded")
			}
		})
	}
}

func TestEncodeRejects(t *testing.T) {
	if _, err := Encode("", nil); err == nil {
		t.Error("Encode accepted an empty bundle name")
	}
	if _, err := Encode("b", map[string][]byte{"": nil}); err == nil {
		t.Error("Encode accepted an empty asset name")
	}
}
