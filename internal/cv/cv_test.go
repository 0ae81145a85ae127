package cv

import "testing"

func TestLookup(t *testing.T) {
	term, ok := Lookup("MS:1000514")
	if !ok || term.Field != FieldMZArray {
		t.Errorf("Lookup MS:1000514: %+v %v", term, ok)
	}
	term, ok = Lookup("MS:9999999")
	if ok || term.Field != FieldUnknown {
		t.Errorf("Lookup unknown accession: %+v %v, should be FieldUnknown", term, ok)
	}
	if FieldOf("MS:1000038") != FieldUnitMinute {
		t.Errorf("FieldOf MS:1000038 should be a minute unit")
	}
}

func TestAccessionRoundTrip(t *testing.T) {
	for f, acc := range accessions {
		got, name := Accession(f)
		if got != acc || name == "" {
			t.Errorf("Accession(%d) = %q %q", f, got, name)
		}
		if FieldOf(got) != f {
			t.Errorf("FieldOf(%s) = %d, should be %d", got, FieldOf(got), f)
		}
	}
}

func TestClasses(t *testing.T) {
	if !FieldNumpressSlofZlib.IsCompression() || FieldMSLevel.IsCompression() {
		t.Errorf("IsCompression")
	}
	if !FieldInt64.IsDataType() || FieldZlib.IsDataType() {
		t.Errorf("IsDataType")
	}
	if !FieldSICChromatogram.IsChromatogramType() {
		t.Errorf("IsChromatogramType")
	}
	if acc, name := Accession(FieldTICChromatogram); acc != "MS:1000235" || name != "total ion current chromatogram" {
		t.Errorf("Accession(FieldTICChromatogram) = %q %q", acc, name)
	}
	if Prefix("UO:0000031") != "UO" || Prefix("nocolon") != "" {
		t.Errorf("Prefix")
	}
}
