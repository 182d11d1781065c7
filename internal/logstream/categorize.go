package logstream

import (
	"regexp"
	"strings"
)

// Category 日志分类（界面着色使用）
type Category string

const (
	CategoryError   Category = "error"
	CategoryWarning Category = "warning"
	CategoryCommand Category = "command"
	CategorySuccess Category = "success"
	CategoryDevice  Category = "device"
	CategoryDefault Category = "default"
)

// 固件输出包含法语提示，模式按固件原文保留
var (
	errorPatterns = []string{
		"ERROR", "❌", "ÉCHEC", "FAIL", "FATAL", "EXCEPTION",
		"ERREUR JSON", "ERREUR PARSING", "DATABASE ERROR", "ACCÈS REFUSÉ",
	}
	warningPatterns = []string{
		"WARN", "⚠️", "ATTENTION", "TIMEOUT",
		"COMMANDE INCONNUE", "NON DISPONIBLE", "VÉRIFIER",
	}
	commandPatterns = []string{
		"📤", "ENVOI", "COMMANDE", "SEND", "REQUEST", "DEMANDE",
		"UPDATE_CONFIG", "GET_CONFIG", "RESET_CONFIG", "FLASH",
	}
	successPatterns = []string{
		"✅", "SUCCESS", "SUCCÈS", "RÉUSSI", "CONFIGURÉ", "CONNECTÉ",
		"ATTACHÉ", "DÉMARRÉ", "TERMINÉ", "COMPLÉTÉ",
	}
	deviceTags     = []string{"MODEM", "SENSOR", "GPS", "USB", "CFG", "NETWORK"}
	devicePatterns = []string{
		// modem
		"MODEM", "SIM", "CSQ", "RSSI", "SIGNAL", "OPÉRATEUR", "ENREGISTREMENT", "APN", "GPRS", "4G", "LTE",
		// gps
		"GPS", "LATITUDE", "LONGITUDE", "SATELLITE", "FIX", "COORDONNÉES", "GÉOLOCALISATION",
		// sensor
		"AIRFLOW", "FLOW", "BATTERY", "BATTERIE", "MESURE", "CAPTURE", "ADC", "V_BATT",
	}

	tagPattern = regexp.MustCompile(`^\[([^\]]+)\]`)
)

// Categorize 按优先级 error > warning > command > success > device 分类
func Categorize(line string) Category {
	if line == "" {
		return CategoryDefault
	}
	upper := strings.ToUpper(line)

	switch {
	case containsAny(line, upper, errorPatterns):
		return CategoryError
	case containsAny(line, upper, warningPatterns):
		return CategoryWarning
	case containsAny(line, upper, commandPatterns):
		return CategoryCommand
	case containsAny(line, upper, successPatterns):
		return CategorySuccess
	}

	if m := tagPattern.FindStringSubmatch(line); m != nil {
		tag := strings.ToUpper(m[1])
		for _, t := range deviceTags {
			if strings.Contains(tag, t) {
				return CategoryDevice
			}
		}
	}
	for _, p := range devicePatterns {
		if strings.Contains(upper, p) {
			return CategoryDevice
		}
	}
	return CategoryDefault
}

func containsAny(line, upper string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(line, p) || strings.Contains(upper, p) {
			return true
		}
	}
	return false
}
