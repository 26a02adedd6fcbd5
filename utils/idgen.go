package utils

import "math/rand"

const (
	upperLetters = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"
	digits       = "0123456789"
)

// GenerateVotersID 3 位大写字母加 6 位数字，例如 KQD204918
func GenerateVotersID() string {
	return generateRandomString(upperLetters, 3) + generateRandomString(digits, 6)
}

// GenerateCandidateCode "C" 加 3 位大写字母和 6 位数字
func GenerateCandidateCode() string {
	return "C" + GenerateVotersID()
}

// generateRandomString 从 letters 中随机选取 n 个字符；唯一性由调用方检查
func generateRandomString(letters string, n int) string {
	s := make([]byte, n)
	for i := range s {
		s[i] = letters[rand.Intn(len(letters))]
	}
	return string(s)
}
