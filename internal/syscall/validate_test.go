package syscall

import (
	"testing"

	"github.com/go-pintos/kernel/internal/collaborators"
	"github.com/go-pintos/kernel/internal/process"
)

const testPageVA = uint32(0x08048000)

func TestValidateUserPointerRejectsNull(t *testing.T) {
	pd := collaborators.NewFakePageDirectory()
	if validateUserPointer(pd, 0) {
		t.Fatal("accepted a null pointer")
	}
}

func TestValidateUserPointerRejectsKernelSpace(t *testing.T) {
	pd := collaborators.NewFakePageDirectory()
	pd.SetPage(process.PhysBase, make([]byte, collaborators.PageSize), true)
	if validateUserPointer(pd, process.PhysBase) {
		t.Fatal("accepted an address at or above PhysBase")
	}
}

func TestValidateUserPointerRejectsUnmapped(t *testing.T) {
	pd := collaborators.NewFakePageDirectory()
	if validateUserPointer(pd, testPageVA) {
		t.Fatal("accepted a pointer into an unmapped page")
	}
}

func TestValidateUserPointerAcceptsMapped(t *testing.T) {
	pd := collaborators.NewFakePageDirectory()
	pd.SetPage(testPageVA, make([]byte, collaborators.PageSize), true)
	if !validateUserPointer(pd, testPageVA+10) {
		t.Fatal("rejected a pointer into a mapped page")
	}
}

func TestValidateUserBufferChecksBothEnds(t *testing.T) {
	pd := collaborators.NewFakePageDirectory()
	pd.SetPage(testPageVA, make([]byte, collaborators.PageSize), true)

	// Buffer starting inside the mapped page but running off the end into
	// an unmapped second page must be rejected.
	start := testPageVA + collaborators.PageSize - 4
	if validateUserBuffer(pd, start, 8) {
		t.Fatal("accepted a buffer spanning into an unmapped page")
	}
	if !validateUserBuffer(pd, start, 4) {
		t.Fatal("rejected a buffer that fits entirely in the mapped page")
	}
}

func TestValidateUserStringBoundedScan(t *testing.T) {
	pd := collaborators.NewFakePageDirectory()
	page := make([]byte, collaborators.PageSize)
	copy(page, "hello")
	page[5] = 0
	pd.SetPage(testPageVA, page, true)

	got, ok := validateUserString(pd, testPageVA)
	if !ok || got != "hello" {
		t.Fatalf("validateUserString = %q, ok=%v, want \"hello\", true", got, ok)
	}
}

func TestValidateUserStringFailsWithoutNUL(t *testing.T) {
	pd := collaborators.NewFakePageDirectory()
	// Fill two full mapped pages with non-NUL bytes so the scan exhausts
	// maxStringScan without ever finding a terminator.
	page1 := make([]byte, collaborators.PageSize)
	page2 := make([]byte, collaborators.PageSize)
	for i := range page1 {
		page1[i] = 'x'
	}
	for i := range page2 {
		page2[i] = 'x'
	}
	pd.SetPage(testPageVA, page1, true)
	pd.SetPage(testPageVA+collaborators.PageSize, page2, true)

	if _, ok := validateUserString(pd, testPageVA); ok {
		t.Fatal("validateUserString succeeded on an unterminated buffer")
	}
}
