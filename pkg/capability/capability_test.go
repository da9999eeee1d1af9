package capability

import (
	"testing"
)

func TestSet_Full_HasEveryCapability(t *testing.T) {
	full := Full()
	for _, c := range All() {
		if !full.Has(c) {
			t.Errorf("Full set should grant %s", c)
		}
	}
}

func TestSet_None_HasNothing(t *testing.T) {
	none := None()
	for _, c := range All() {
		if none.Has(c) {
			t.Errorf("None set should not grant %s", c)
		}
	}
}

func TestSet_Variants_ImplyOnlyTheirCapability(t *testing.T) {
	tests := []struct {
		name    string
		set     Set
		granted []Capability
	}{
		{"file-read", FileRead("/data"), []Capability{CapFileRead}},
		{"file-write", FileWrite("/out"), []Capability{CapFileWrite}},
		{"file-read-write", FileReadWrite("/data"), []Capability{CapFileRead, CapFileWrite}},
		{"network", Network("example.com"), []Capability{CapNetworkHTTP}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			granted := make(map[Capability]bool)
			for _, c := range tt.granted {
				granted[c] = true
			}
			for _, c := range All() {
				if tt.set.Has(c) != granted[c] {
					t.Errorf("%s.Has(%s) = %v, want %v", tt.set, c, tt.set.Has(c), granted[c])
				}
			}
		})
	}
}

func TestSet_FileReadNeverImpliesWrite(t *testing.T) {
	if FileRead("/data").Has(CapFileWrite) {
		t.Error("FileRead must not imply FileWrite")
	}
	if FileWrite("/data").Has(CapFileRead) {
		t.Error("FileWrite must not imply FileRead")
	}
}

func TestSet_MaxRisk(t *testing.T) {
	tests := []struct {
		set  Set
		want RiskLevel
	}{
		{None(), RiskLow},
		{FileRead("/data"), RiskMedium},
		{FileWrite("/out"), RiskHigh},
		{FileReadWrite("/data"), RiskHigh},
		{Network("example.com"), RiskMedium},
		{Full(), RiskHigh},
	}

	for _, tt := range tests {
		if got := tt.set.MaxRisk(); got != tt.want {
			t.Errorf("%s.MaxRisk() = %s, want %s", tt.set, got, tt.want)
		}
	}
}

func TestSet_Validate(t *testing.T) {
	if err := FileRead().Validate(); err == nil {
		t.Error("file set without paths should fail validation")
	}
	if err := FileRead("relative/path").Validate(); err == nil {
		t.Error("relative path should fail validation")
	}
	if err := FileRead("/data").Validate(); err != nil {
		t.Errorf("absolute path should validate, got: %v", err)
	}
	if err := Network().Validate(); err == nil {
		t.Error("network set without hosts should fail validation")
	}
	if err := None().Validate(); err != nil {
		t.Errorf("None should validate, got: %v", err)
	}
	if err := Full().Validate(); err != nil {
		t.Errorf("Full should validate, got: %v", err)
	}
}

func TestCapability_RiskIsFixed(t *testing.T) {
	if CapClockAccess.Risk() != RiskLow {
		t.Errorf("clock access should be low risk")
	}
	if CapFileRead.Risk() != RiskMedium {
		t.Errorf("file read should be medium risk")
	}
	if CapSpawnProcess.Risk() != RiskHigh {
		t.Errorf("spawn process should be high risk")
	}
}
