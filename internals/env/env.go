package env

import (
	"fmt"
	"log"
	"strconv"

	z "github.com/Oudwins/zog"
	"github.com/Oudwins/zog/zenv"
)

type EnvStruct struct {
	HOME        string `zog:"HOME"`
	PORT        int    `zog:"CLIPQ_PORT"`
	DATA_DIR    string `zog:"CLIPQ_DATA_DIR"`
	LISTEN_ADDR string
	LISTEN_PROT string
	BASE_URL    string
}

var env *EnvStruct

var EnvSchema = z.Struct(z.Shape{
	"HOME":     z.String().Optional(),
	"PORT":     z.Int().Default(57878).GT(0).LT(65536),
	"DATA_DIR": z.String().Optional().Trim(),
})

// Load parses the process environment without caching it.
func Load() (*EnvStruct, error) {
	parsed := &EnvStruct{}
	if errs := EnvSchema.Parse(zenv.NewDataProvider(), parsed); errs != nil {
		return nil, fmt.Errorf("invalid environment:\n%s", z.Issues.Prettify(errs))
	}
	parsed.LISTEN_PROT = "http://"
	parsed.LISTEN_ADDR = "localhost:" + strconv.Itoa(parsed.PORT)
	parsed.BASE_URL = parsed.LISTEN_PROT + parsed.LISTEN_ADDR
	return parsed, nil
}

func Get() *EnvStruct {
	if env == nil {
		parsed, err := Load()
		if err != nil {
			log.Fatal("[Clipq] Failed to parse environment variables: ", err)
		}
		env = parsed
	}
	return env
}
