package cfg

import "fmt"

type (
	App struct {
		Name    string
		Version string
	}

	Mysql struct {
		Host                  string
		Port                  string
		Username              string
		Password              string
		Database              string
		MaxIdleConnection     int
		MaxOpenConnection     int
		MaxLifeTimeConnection int
	}

	Kafka struct {
		Brokers          []string
		TopicFetchPrefix string
		TopicCount       string
		TopicDeadLetter  string
		ConsumerGroup    string
	}

	GithubApi struct {
		ApiUrl            string
		RequestsPerSecond int
	}

	Fetcher struct {
		MaxDepth                   int
		MinFetchDeltaAccountMin    int
		MinFetchDeltaRepositoryMin int
		TokenPollMs                int
	}
)

type Config struct {
	App       App
	Mysql     Mysql
	Kafka     Kafka
	GithubApi GithubApi
	Fetcher   Fetcher
}

// FetchTopic returns the queue topic holding fetch requests with the given
// remaining depth. One topic exists per depth level, 0..MaxDepth.
func (c *Config) FetchTopic(depth int) string {
	return fmt.Sprintf("%s%d", c.Kafka.TopicFetchPrefix, depth)
}
