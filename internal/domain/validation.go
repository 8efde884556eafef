package domain

import "regexp"

// Patrones de validación de entrada del lado del gateway. Lo que falla acá
// nunca llega a la red.
var (
	emailPattern          = regexp.MustCompile(`^[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}$`)
	strongPasswordPattern = regexp.MustCompile(`^[A-Za-z\d@$!%*?&]{8,}$`)
	namePattern           = regexp.MustCompile(`^[a-zA-Z\s'-]{2,50}$`)
)

// ValidEmail reporta si el email tiene forma valida.
func ValidEmail(email string) bool {
	return emailPattern.MatchString(email)
}

// ValidPassword exige al menos 8 caracteres con mayúscula, minúscula, dígito
// y caracter especial. Go RE2 no soporta lookaheads, asi que las clases se
// chequean por separado.
func ValidPassword(password string) bool {
	if !strongPasswordPattern.MatchString(password) {
		return false
	}
	var lower, upper, digit, special bool
	for _, r := range password {
		switch {
		case r >= 'a' && r <= 'z':
			lower = true
		case r >= 'A' && r <= 'Z':
			upper = true
		case r >= '0' && r <= '9':
			digit = true
		default:
			special = true
		}
	}
	return lower && upper && digit && special
}

// ValidName acepta 2-50 caracteres: letras, espacios, guiones y apóstrofes.
func ValidName(name string) bool {
	return namePattern.MatchString(name)
}
