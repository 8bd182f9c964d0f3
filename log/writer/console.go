package writer

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// componentField 与 log.Logger.Component 写入的字段名一致
const componentField = "component"

// Console 创建控制台 writer，component 字段紧跟级别输出；非终端输出时关闭颜色
func Console(out io.Writer) zerolog.ConsoleWriter {
	return zerolog.ConsoleWriter{
		Out:           out,
		NoColor:       !isTerminal(out),
		TimeFormat:    time.DateTime,
		FormatLevel:   formatLevel,
		PartsOrder:    []string{zerolog.TimestampFieldName, zerolog.LevelFieldName, componentField, zerolog.MessageFieldName},
		FieldsExclude: []string{componentField},
		FormatPartValueByName: func(v any, name string) string {
			if name != componentField {
				return fmt.Sprint(v)
			}
			if v == nil {
				return ""
			}
			return fmt.Sprintf("[%s]", v)
		},
	}
}

func formatLevel(i any) string {
	return strings.ToUpper(fmt.Sprintf("| %-6s|", i))
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}
