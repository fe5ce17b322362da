package sqlinline

const QSelectProviderToken = `--sql fb9391ce-3b02-4987-82e7-7d4478256102
select token
from integration_tokens
where provider = $1::text
limit 1;
`

const QUpsertProviderToken = `--sql ccdceb83-562e-49bf-87d1-8f600f7236e7
insert into integration_tokens (id, provider, token, properties, created_at, updated_at)
values (gen_random_uuid(), $1::text, $2::text, coalesce($3::jsonb, '{}'::jsonb), now(), now())
on conflict (provider) do update set
    token = excluded.token,
    properties = excluded.properties,
    updated_at = now();
`
