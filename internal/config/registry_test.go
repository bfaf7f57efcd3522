package config

import (
	"errors"
	"testing"

	"github.com/tanklabs/tankd/pkg/provider/asr"
	asrmock "github.com/tanklabs/tankd/pkg/provider/asr/mock"
	"github.com/tanklabs/tankd/pkg/provider/llm"
	llmmock "github.com/tanklabs/tankd/pkg/provider/llm/mock"
	"github.com/tanklabs/tankd/pkg/provider/tts"
	ttsmock "github.com/tanklabs/tankd/pkg/provider/tts/mock"
)

func TestRegistryCreateUsesRegisteredFactory(t *testing.T) {
	r := NewRegistry()

	var gotEntry ProviderEntry
	r.RegisterLLM("mock", func(e ProviderEntry) (llm.Provider, error) {
		gotEntry = e
		return &llmmock.Provider{}, nil
	})
	r.RegisterASR("mock", func(ProviderEntry) (asr.Provider, error) {
		return &asrmock.Provider{}, nil
	})
	r.RegisterTTS("mock", func(ProviderEntry) (tts.Provider, error) {
		return &ttsmock.Provider{}, nil
	})

	p, err := r.CreateLLM(ProviderEntry{Name: "mock", Model: "m1"})
	if err != nil || p == nil {
		t.Fatalf("CreateLLM = %v, %v", p, err)
	}
	if gotEntry.Model != "m1" {
		t.Errorf("factory entry = %+v, want Model m1", gotEntry)
	}
	if _, err := r.CreateASR(ProviderEntry{Name: "mock"}); err != nil {
		t.Errorf("CreateASR: %v", err)
	}
	if _, err := r.CreateTTS(ProviderEntry{Name: "mock"}); err != nil {
		t.Errorf("CreateTTS: %v", err)
	}
}

func TestRegistryCreateUnregisteredName(t *testing.T) {
	r := NewRegistry()

	if _, err := r.CreateLLM(ProviderEntry{Name: "nope"}); !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("CreateLLM error = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := r.CreateASR(ProviderEntry{Name: "nope"}); !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("CreateASR error = %v, want ErrProviderNotRegistered", err)
	}
	if _, err := r.CreateTTS(ProviderEntry{Name: "nope"}); !errors.Is(err, ErrProviderNotRegistered) {
		t.Errorf("CreateTTS error = %v, want ErrProviderNotRegistered", err)
	}
}

func TestRegistryRegisterOverwrites(t *testing.T) {
	r := NewRegistry()

	first := &llmmock.Provider{}
	second := &llmmock.Provider{}
	r.RegisterLLM("mock", func(ProviderEntry) (llm.Provider, error) { return first, nil })
	r.RegisterLLM("mock", func(ProviderEntry) (llm.Provider, error) { return second, nil })

	p, err := r.CreateLLM(ProviderEntry{Name: "mock"})
	if err != nil {
		t.Fatalf("CreateLLM: %v", err)
	}
	if p != second {
		t.Error("later registration did not overwrite the earlier one")
	}
}
