package scanning

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Classify", func() {
	DescribeTable("categorizing scanned content",
		func(content string, expected Category) {
			Expect(Classify(content)).To(Equal(expected))
		},
		Entry("state portal query", "http://www.fazenda.pr.gov.br/nfce/qrcode?p=41240312345678000190650010000456781000000012|2|1|1|ABC", CategoryTaxReceipt),
		Entry("sefaz host", "https://nfce.sefaz.rs.gov.br/consulta?x=1", CategoryTaxReceipt),
		Entry("fazenda host", "http://nfce.fazenda.sp.gov.br/qrcode", CategoryTaxReceipt),
		Entry("access key parameter in upper case", "HTTP://EXAMPLE.COM/?CHNFE=ABC", CategoryTaxReceipt),
		Entry("plain URL", "https://example.com/page", CategoryURL),
		Entry("email address", "someone@example.com", CategoryEmail),
		Entry("digits only", "7891234567890", CategoryNumeric),
		Entry("free text", "hello world", CategoryText),
		Entry("digits with a letter", "12a3", CategoryText),
	)

	It("should never return the receipt category from the generic rules", func() {
		Expect(classifyGeneric("https://nfce.sefaz.rs.gov.br/?chNFe=1")).To(Equal(CategoryURL))
	})
})
