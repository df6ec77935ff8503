package config

import "testing"

func TestSecretsOverrideWinsOverEnv(t *testing.T) {
	t.Setenv("APICORE_TEST_SECRET", "from-env")
	s := NewSecrets()

	v, err := s.Get("APICORE_TEST_SECRET")
	if err != nil || v != "from-env" {
		t.Fatalf("Get() = (%q, %v), want (from-env, nil)", v, err)
	}

	s.Set("APICORE_TEST_SECRET", "from-override")
	v, err = s.Get("APICORE_TEST_SECRET")
	if err != nil || v != "from-override" {
		t.Fatalf("Get() = (%q, %v), want (from-override, nil)", v, err)
	}
}

func TestSecretsMissing(t *testing.T) {
	s := NewSecrets()
	if _, err := s.Get("APICORE_DOES_NOT_EXIST"); err == nil {
		t.Fatalf("expected error for missing secret")
	}
}
