package receipt

import (
	"strings"
	"unicode"
)

// digits keeps only the ASCII digits of s
func digits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}

// mask lays the digits of s over pattern, where '#' takes one digit. Values
// with the wrong digit count come back unchanged.
func mask(s, pattern string) string {
	d := digits(s)
	if len(d) != strings.Count(pattern, "#") {
		return s
	}
	var b strings.Builder
	i := 0
	for _, r := range pattern {
		if r == '#' {
			b.WriteByte(d[i])
			i++
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// FormatCNPJ renders a company registry number as 00.000.000/0000-00
func FormatCNPJ(cnpj string) string {
	return mask(cnpj, "##.###.###/####-##")
}

// FormatCPF renders a personal tax ID as 000.000.000-00
func FormatCPF(cpf string) string {
	return mask(cpf, "###.###.###-##")
}

// FormatCEP renders a postal code as 00.000-000
func FormatCEP(cep string) string {
	return mask(cep, "##.###-###")
}

// FormatDocument picks the CPF or CNPJ layout by digit count
func FormatDocument(doc string) string {
	if len(digits(doc)) == 14 {
		return FormatCNPJ(doc)
	}
	return FormatCPF(doc)
}

// orNA substitutes a placeholder for blank values in human-readable exports
func orNA(s string) string {
	if strings.TrimFunc(s, unicode.IsSpace) == "" {
		return "N/A"
	}
	return s
}
