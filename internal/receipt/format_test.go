package receipt

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/shopspring/decimal"
)

var _ = Describe("Formatting", func() {
	DescribeTable("FormatCNPJ",
		func(in, want string) {
			Expect(FormatCNPJ(in)).To(Equal(want))
		},
		Entry("bare digits", "12345678000190", "12.345.678/0001-90"),
		Entry("already formatted", "12.345.678/0001-90", "12.345.678/0001-90"),
		Entry("wrong length is untouched", "1234", "1234"),
		Entry("empty", "", ""),
	)

	DescribeTable("FormatCPF",
		func(in, want string) {
			Expect(FormatCPF(in)).To(Equal(want))
		},
		Entry("bare digits", "12345678909", "123.456.789-09"),
		Entry("already formatted", "123.456.789-09", "123.456.789-09"),
		Entry("wrong length is untouched", "123456", "123456"),
	)

	DescribeTable("FormatCEP",
		func(in, want string) {
			Expect(FormatCEP(in)).To(Equal(want))
		},
		Entry("bare digits", "80010000", "80.010-000"),
		Entry("hyphenated", "80010-000", "80.010-000"),
		Entry("wrong length is untouched", "8001", "8001"),
	)

	DescribeTable("FormatDocument",
		func(in, want string) {
			Expect(FormatDocument(in)).To(Equal(want))
		},
		Entry("CPF", "12345678909", "123.456.789-09"),
		Entry("CNPJ", "12345678000190", "12.345.678/0001-90"),
	)

	DescribeTable("formatBRL",
		func(in, want string) {
			Expect(formatBRL(decimal.RequireFromString(in))).To(Equal(want))
		},
		Entry("zero", "0", "R$ 0,00"),
		Entry("cents", "8.49", "R$ 8,49"),
		Entry("thousands", "1037.39", "R$ 1.037,39"),
		Entry("millions", "1234567.8", "R$ 1.234.567,80"),
		Entry("negative", "-5", "-R$ 5,00"),
	)
})
